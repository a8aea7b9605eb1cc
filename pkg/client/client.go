package client

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lwm2m-protocol/lwm2m-go/pkg/log"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/model"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/nsdl"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/timer"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/transport"
)

// Client errors.
var (
	ErrReservedObjectID = errors.New("object id is reserved")
	ErrAlreadyStarted   = errors.New("client already started")
	ErrNotStarted       = errors.New("client not started")
)

// Observer receives the client's callbacks; see nsdl.Observer for the
// delivery contract.
type Observer = nsdl.Observer

// ErrorKind classifies errors surfaced through Observer.Error.
type ErrorKind = nsdl.ErrorKind

// Error kinds, re-exported for applications.
const (
	KindUnknown           = nsdl.KindUnknown
	KindAlreadyExists     = nsdl.KindAlreadyExists
	KindNotFound          = nsdl.KindNotFound
	KindInvalidParameters = nsdl.KindInvalidParameters
	KindInvalidState      = nsdl.KindInvalidState
	KindTimeout           = nsdl.KindTimeout
	KindNetworkError      = nsdl.KindNetworkError
	KindNotAllowed        = nsdl.KindNotAllowed
	KindNotAcceptable     = nsdl.KindNotAcceptable
)

// Config configures an Interface.
type Config struct {
	// Endpoint carries the client parameters advertised at registration.
	Endpoint model.Endpoint

	// Transport overrides the default UDP transport. When nil, the client
	// opens its own UDP socket and closes it on Stop.
	Transport transport.Transport

	// LocalAddress is the bind address for the default UDP transport,
	// ":0" when empty. Ignored when Transport is set.
	LocalAddress string

	// Logger is the optional debug logger. If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger captures structured protocol events, optional.
	ProtocolLogger log.Logger

	// Clock overrides the engine clock, for tests.
	Clock timer.Clock
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	return c.Endpoint.Validate()
}

// Interface is the LWM2M client handle. All operations are non-blocking;
// results arrive via the observer.
type Interface struct {
	mu sync.Mutex

	cfg           Config
	engine        *nsdl.Engine
	transport     transport.Transport
	ownsTransport bool
	securityObj   *model.Object
	started       bool
}

// New creates a client for the given endpoint. The observer is required.
func New(observer Observer, cfg Config) (*Interface, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tr := cfg.Transport
	owns := false
	if tr == nil {
		udp, err := transport.NewUDP(transport.UDPConfig{
			LocalAddress: cfg.LocalAddress,
			Logger:       cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		tr = udp
		owns = true
	}

	engine, err := nsdl.New(observer, nsdl.Config{
		Endpoint:       cfg.Endpoint,
		Transport:      tr,
		Clock:          cfg.Clock,
		Logger:         cfg.Logger,
		ProtocolLogger: cfg.ProtocolLogger,
	})
	if err != nil {
		if owns {
			_ = tr.Close()
		}
		return nil, err
	}

	securityObj := model.NewSecurityObject()
	if err := engine.Tree().Add(securityObj); err != nil {
		if owns {
			_ = tr.Close()
		}
		return nil, err
	}

	return &Interface{
		cfg:           cfg,
		engine:        engine,
		transport:     tr,
		ownsTransport: owns,
		securityObj:   securityObj,
	}, nil
}

// Start launches the engine.
func (i *Interface) Start() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.started {
		return ErrAlreadyStarted
	}
	if err := i.engine.Start(); err != nil {
		return err
	}
	i.started = true
	return nil
}

// Stop halts the engine and, when the client owns it, the transport.
func (i *Interface) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.started {
		return
	}
	i.engine.Stop()
	if i.ownsTransport {
		_ = i.transport.Close()
	}
	i.started = false
}

// Engine exposes the underlying engine, mainly for diagnostics.
func (i *Interface) Engine() *nsdl.Engine { return i.engine }

// NewSecurity creates a security instance of the given server type,
// mirroring the shape the bootstrap server would provision.
func (i *Interface) NewSecurity(serverType model.ServerType) (*model.Security, error) {
	return model.NewSecurity(i.securityObj, serverType)
}

// NewObject creates an application object. Reserved OMA ids are refused.
func (i *Interface) NewObject(id uint16, name string) (*model.Object, error) {
	if model.IsReservedObjectID(id) {
		return nil, fmt.Errorf("%w: %d", ErrReservedObjectID, id)
	}
	return model.NewObject(id, name), nil
}

// NewDevice builds the standard Device object (3).
func (i *Interface) NewDevice(info model.DeviceInfo) (*model.Device, error) {
	return model.NewDeviceObject(info)
}

// NewServer builds the standard Server object (1) wired so that the
// registration update trigger refreshes the registration.
func (i *Interface) NewServer(shortServerID uint16) (*model.Server, error) {
	srv, err := model.NewServerObject(shortServerID, i.cfg.Endpoint.Lifetime, i.cfg.Endpoint.Binding)
	if err != nil {
		return nil, err
	}
	srv.OnUpdateTrigger(func([]byte) {
		i.engine.UpdateRegistration(0)
	})
	return srv, nil
}

// Bootstrap requests provisioning from the bootstrap server described by
// security. Requires the bootstrap flag set.
func (i *Interface) Bootstrap(security *model.Security) {
	i.engine.Bootstrap(security)
}

// Register registers the endpoint and its objects with the server
// described by security. Requires the bootstrap flag clear.
func (i *Interface) Register(security *model.Security, objects []*model.Object) {
	i.engine.Register(security, objects)
}

// UpdateRegistration refreshes the registration; lifetime 0 keeps the
// current lifetime.
func (i *Interface) UpdateRegistration(lifetime int64) {
	i.engine.UpdateRegistration(lifetime)
}

// Unregister removes the registration.
func (i *Interface) Unregister() {
	i.engine.Unregister()
}

// SetResourceValue writes a resource through the engine-mediated path, so
// observations are re-evaluated and the observer sees the update.
func (i *Interface) SetResourceValue(path model.Path, value any) error {
	r, err := i.engine.Tree().ResolveResource(path)
	if err != nil {
		return err
	}
	if path.Depth == model.DepthResourceInstance {
		ri, ok := r.Instance(path.ResourceInstance)
		if !ok {
			return fmt.Errorf("%s: %w", path, model.ErrNotFound)
		}
		ri.SetValue(value)
	} else {
		if err := r.SetValue(value); err != nil {
			return err
		}
	}
	i.engine.ValueUpdated(path)
	return nil
}
