package model

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Security object (0) resource ids.
const (
	SecResServerURI       uint16 = 0
	SecResBootstrapServer uint16 = 1
	SecResSecurityMode    uint16 = 2
	SecResServerPublicKey uint16 = 3
	SecResPublicKey       uint16 = 4
	SecResSecretKey       uint16 = 5
	SecResShortServerID   uint16 = 10
)

// SecurityMode is the credential mode of a security instance.
type SecurityMode int64

const (
	SecurityPSK         SecurityMode = 0
	SecurityRPK         SecurityMode = 1
	SecurityCertificate SecurityMode = 2
	SecurityNoSec       SecurityMode = 3
)

// ServerType distinguishes the two roles a security instance describes.
type ServerType uint8

const (
	// BootstrapServer marks credentials for the bootstrap server.
	BootstrapServer ServerType = iota

	// ManagementServer marks credentials for the LWM2M server proper.
	ManagementServer
)

// Security is one instance of the Security object together with typed
// accessors for its well-known resources. The Security object is never
// published in the resource directory.
type Security struct {
	instance *ObjectInstance
}

// NewSecurityObject builds the Security object (id 0) with no instances.
func NewSecurityObject() *Object {
	return NewObject(ObjectIDSecurity, "security")
}

// NewSecurity creates a security instance under obj for the given server
// type. Bootstrap instances get instance id 0, management instances the
// next free id starting at 1.
func NewSecurity(obj *Object, serverType ServerType) (*Security, error) {
	var id uint16
	if serverType == ManagementServer {
		id = 1
		for {
			if _, ok := obj.Instance(id); !ok {
				break
			}
			id++
		}
	}
	inst, err := obj.CreateInstance(id)
	if err != nil {
		return nil, err
	}
	metas := []ResourceMetadata{
		{ID: SecResServerURI, Name: "server_uri", Type: TypeString, Operations: OpReadWrite},
		{ID: SecResBootstrapServer, Name: "bootstrap_server", Type: TypeBoolean, Operations: OpReadWrite},
		{ID: SecResSecurityMode, Name: "security_mode", Type: TypeInteger, Operations: OpReadWrite},
		{ID: SecResServerPublicKey, Name: "server_public_key", Type: TypeOpaque, Operations: OpReadWrite},
		{ID: SecResPublicKey, Name: "public_key", Type: TypeOpaque, Operations: OpReadWrite},
		{ID: SecResSecretKey, Name: "secret_key", Type: TypeOpaque, Operations: OpReadWrite},
		{ID: SecResShortServerID, Name: "short_server_id", Type: TypeInteger, Operations: OpReadWrite},
	}
	for _, m := range metas {
		if _, err := inst.AddResource(m); err != nil {
			return nil, err
		}
	}
	sec := &Security{instance: inst}
	if serverType == BootstrapServer {
		_ = sec.SetBootstrap(true)
	}
	return sec, nil
}

// SecurityFromInstance wraps an existing Security object instance.
func SecurityFromInstance(inst *ObjectInstance) *Security {
	return &Security{instance: inst}
}

// Instance returns the underlying object instance.
func (s *Security) Instance() *ObjectInstance { return s.instance }

// InstanceID returns the instance id.
func (s *Security) InstanceID() uint16 { return s.instance.ID() }

func (s *Security) setValue(rid uint16, v any) error {
	r, ok := s.instance.Resource(rid)
	if !ok {
		return fmt.Errorf("security resource %d: %w", rid, ErrNotFound)
	}
	return r.SetValue(v)
}

func (s *Security) value(rid uint16) any {
	r, ok := s.instance.Resource(rid)
	if !ok {
		return nil
	}
	return r.Value()
}

// SetServerURI sets the server URI, e.g. "coap://host:5683".
func (s *Security) SetServerURI(uri string) error {
	return s.setValue(SecResServerURI, uri)
}

// ServerURI returns the server URI.
func (s *Security) ServerURI() string {
	v, _ := s.value(SecResServerURI).(string)
	return v
}

// SetBootstrap sets the bootstrap-server flag.
func (s *Security) SetBootstrap(b bool) error {
	return s.setValue(SecResBootstrapServer, b)
}

// IsBootstrap reports the bootstrap-server flag.
func (s *Security) IsBootstrap() bool {
	v, _ := s.value(SecResBootstrapServer).(bool)
	return v
}

// SetMode sets the security mode.
func (s *Security) SetMode(m SecurityMode) error {
	return s.setValue(SecResSecurityMode, int64(m))
}

// Mode returns the security mode.
func (s *Security) Mode() SecurityMode {
	v, _ := s.value(SecResSecurityMode).(int64)
	return SecurityMode(v)
}

// SetServerPublicKey sets the server public key or certificate.
func (s *Security) SetServerPublicKey(key []byte) error {
	return s.setValue(SecResServerPublicKey, key)
}

// SetPublicKey sets the client public key or identity.
func (s *Security) SetPublicKey(key []byte) error {
	return s.setValue(SecResPublicKey, key)
}

// SetSecretKey sets the client secret key.
func (s *Security) SetSecretKey(key []byte) error {
	return s.setValue(SecResSecretKey, key)
}

// SetShortServerID sets the short server id.
func (s *Security) SetShortServerID(id uint16) error {
	return s.setValue(SecResShortServerID, int64(id))
}

// ShortServerID returns the short server id.
func (s *Security) ShortServerID() uint16 {
	v, _ := s.value(SecResShortServerID).(int64)
	return uint16(v)
}

// ServerAddress is the parsed form of a security instance's server URI.
type ServerAddress struct {
	Host    string
	Port    uint16
	Secure  bool
	Literal string
}

// ParseServerURI parses a coap:// or coaps:// URI into host and port,
// defaulting the port to 5683 (or 5684 when secured).
func ParseServerURI(uri string) (ServerAddress, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return ServerAddress{}, fmt.Errorf("server uri %q: %w", uri, err)
	}
	var secure bool
	switch strings.ToLower(u.Scheme) {
	case "coap":
	case "coaps":
		secure = true
	default:
		return ServerAddress{}, fmt.Errorf("server uri %q: unsupported scheme %q", uri, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return ServerAddress{}, fmt.Errorf("server uri %q: missing host", uri)
	}
	port := uint16(5683)
	if secure {
		port = 5684
	}
	if p := u.Port(); p != "" {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return ServerAddress{}, fmt.Errorf("server uri %q: bad port: %w", uri, err)
		}
		port = uint16(n)
	}
	return ServerAddress{Host: host, Port: port, Secure: secure, Literal: uri}, nil
}
