package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lwm2m-protocol/lwm2m-go/pkg/model"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// SecurityState is the on-disk snapshot of the Security object set.
type SecurityState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Instances holds one entry per security instance.
	Instances []SecurityInstance `json:"instances,omitempty"`
}

// SecurityInstance mirrors one Security object instance for JSON
// serialization. Key material is carried verbatim; protecting the file is
// the host's responsibility.
type SecurityInstance struct {
	InstanceID      uint16 `json:"instance_id"`
	ServerURI       string `json:"server_uri"`
	Bootstrap       bool   `json:"bootstrap"`
	Mode            int64  `json:"mode"`
	ServerPublicKey []byte `json:"server_public_key,omitempty"`
	PublicKey       []byte `json:"public_key,omitempty"`
	SecretKey       []byte `json:"secret_key,omitempty"`
	ShortServerID   uint16 `json:"short_server_id,omitempty"`
}

// SecurityStore manages persistence of the Security object to a JSON file.
type SecurityStore struct {
	mu   sync.Mutex
	path string
}

// NewSecurityStore creates a store backed by the given path.
func NewSecurityStore(path string) *SecurityStore {
	return &SecurityStore{path: path}
}

// Save snapshots every instance of the Security object to disk.
func (s *SecurityStore) Save(obj *model.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := SecurityState{
		Version: StateVersion,
		SavedAt: time.Now(),
	}
	for _, inst := range obj.Instances() {
		sec := model.SecurityFromInstance(inst)
		entry := SecurityInstance{
			InstanceID:    inst.ID(),
			ServerURI:     sec.ServerURI(),
			Bootstrap:     sec.IsBootstrap(),
			Mode:          int64(sec.Mode()),
			ShortServerID: sec.ShortServerID(),
		}
		entry.ServerPublicKey = opaqueValue(inst, model.SecResServerPublicKey)
		entry.PublicKey = opaqueValue(inst, model.SecResPublicKey)
		entry.SecretKey = opaqueValue(inst, model.SecResSecretKey)
		state.Instances = append(state.Instances, entry)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0600)
}

// Load restores saved instances into obj. Instances already present keep
// their identity and are overwritten field by field. Returns nil when no
// state file exists.
func (s *SecurityStore) Load(obj *model.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var state SecurityState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}

	for _, entry := range state.Instances {
		sec, err := securityAt(obj, entry.InstanceID, entry.Bootstrap)
		if err != nil {
			return err
		}
		if err := sec.SetServerURI(entry.ServerURI); err != nil {
			return err
		}
		if err := sec.SetBootstrap(entry.Bootstrap); err != nil {
			return err
		}
		if err := sec.SetMode(model.SecurityMode(entry.Mode)); err != nil {
			return err
		}
		if err := sec.SetShortServerID(entry.ShortServerID); err != nil {
			return err
		}
		if entry.ServerPublicKey != nil {
			if err := sec.SetServerPublicKey(entry.ServerPublicKey); err != nil {
				return err
			}
		}
		if entry.PublicKey != nil {
			if err := sec.SetPublicKey(entry.PublicKey); err != nil {
				return err
			}
		}
		if entry.SecretKey != nil {
			if err := sec.SetSecretKey(entry.SecretKey); err != nil {
				return err
			}
		}
	}
	return nil
}

// Clear removes the state file.
func (s *SecurityStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// securityAt returns the security wrapper for the instance with the given
// id. When that instance is missing it creates a new one through
// model.NewSecurity, which picks the id itself (0 for a bootstrap server,
// the lowest free id from 1 otherwise); that id can differ from id.
func securityAt(obj *model.Object, id uint16, bootstrap bool) (*model.Security, error) {
	if inst, ok := obj.Instance(id); ok {
		return model.SecurityFromInstance(inst), nil
	}
	serverType := model.ManagementServer
	if bootstrap {
		serverType = model.BootstrapServer
	}
	sec, err := model.NewSecurity(obj, serverType)
	if err != nil {
		return nil, err
	}
	return sec, nil
}

func opaqueValue(inst *model.ObjectInstance, rid uint16) []byte {
	r, ok := inst.Resource(rid)
	if !ok {
		return nil
	}
	b, _ := r.Value().([]byte)
	return b
}
