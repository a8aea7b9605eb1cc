package model

// Server object (1) resource ids.
const (
	SrvResShortServerID       uint16 = 0
	SrvResLifetime            uint16 = 1
	SrvResDefaultMinPeriod    uint16 = 2
	SrvResDefaultMaxPeriod    uint16 = 3
	SrvResNotificationStoring uint16 = 6
	SrvResBinding             uint16 = 7
	SrvResUpdateTrigger       uint16 = 8
)

// Server wraps instance 0 of the Server object (1).
type Server struct {
	object   *Object
	instance *ObjectInstance
}

// NewServerObject builds the standard Server object with a single instance
// seeded with the given short server id, lifetime and binding.
func NewServerObject(shortServerID uint16, lifetime int64, binding BindingMode) (*Server, error) {
	obj := NewObject(ObjectIDServer, "server")
	inst, err := obj.CreateInstance(0)
	if err != nil {
		return nil, err
	}
	metas := []ResourceMetadata{
		{ID: SrvResShortServerID, Name: "short_server_id", Type: TypeInteger, Operations: OpRead},
		{ID: SrvResLifetime, Name: "lifetime", Type: TypeInteger, Operations: OpReadWrite, Observable: true},
		{ID: SrvResDefaultMinPeriod, Name: "default_min_period", Type: TypeInteger, Operations: OpReadWrite},
		{ID: SrvResDefaultMaxPeriod, Name: "default_max_period", Type: TypeInteger, Operations: OpReadWrite},
		{ID: SrvResNotificationStoring, Name: "notification_storing", Type: TypeBoolean, Operations: OpReadWrite},
		{ID: SrvResBinding, Name: "binding", Type: TypeString, Operations: OpReadWrite},
		{ID: SrvResUpdateTrigger, Name: "registration_update_trigger", Type: TypeString, Operations: OpExecute},
	}
	for _, m := range metas {
		if _, err := inst.AddResource(m); err != nil {
			return nil, err
		}
	}
	s := &Server{object: obj, instance: inst}
	set := func(rid uint16, v any) {
		if r, ok := inst.Resource(rid); ok {
			_ = r.SetValue(v)
		}
	}
	set(SrvResShortServerID, int64(shortServerID))
	set(SrvResLifetime, lifetime)
	set(SrvResBinding, binding.QueryValue())
	return s, nil
}

// Object returns the underlying object.
func (s *Server) Object() *Object { return s.object }

// Instance returns instance 0.
func (s *Server) Instance() *ObjectInstance { return s.instance }

// Lifetime returns the lifetime resource value.
func (s *Server) Lifetime() int64 {
	r, ok := s.instance.Resource(SrvResLifetime)
	if !ok {
		return 0
	}
	v, _ := r.Value().(int64)
	return v
}

// SetLifetime updates the lifetime resource value.
func (s *Server) SetLifetime(seconds int64) error {
	r, ok := s.instance.Resource(SrvResLifetime)
	if !ok {
		return ErrNotFound
	}
	return r.SetValue(seconds)
}

// OnUpdateTrigger registers the callback run when the server executes the
// registration update trigger (/1/0/8).
func (s *Server) OnUpdateTrigger(fn ExecuteFunc) {
	if r, ok := s.instance.Resource(SrvResUpdateTrigger); ok {
		r.SetExecuteFunc(fn)
	}
}
