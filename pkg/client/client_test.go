package client

import (
	"sync"
	"testing"
	"time"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwm2m-protocol/lwm2m-go/pkg/coap"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/model"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/timer"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/transport"
)

type recordingTransport struct {
	mu      sync.Mutex
	deliver transport.DeliverFunc
	sent    chan []byte
	lastTo  transport.Addr
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{sent: make(chan []byte, 32)}
}

func (f *recordingTransport) Send(to transport.Addr, data []byte) error {
	f.mu.Lock()
	f.lastTo = to
	f.mu.Unlock()
	f.sent <- append([]byte(nil), data...)
	return nil
}

func (f *recordingTransport) OnDeliver(fn transport.DeliverFunc) {
	f.mu.Lock()
	f.deliver = fn
	f.mu.Unlock()
}

func (f *recordingTransport) Start() error { return nil }
func (f *recordingTransport) Close() error { return nil }

func (f *recordingTransport) push(data []byte) {
	f.mu.Lock()
	fn, from := f.deliver, f.lastTo
	f.mu.Unlock()
	fn(from, data)
}

func (f *recordingTransport) next(t *testing.T) *coap.Message {
	t.Helper()
	select {
	case data := <-f.sent:
		m, err := coap.Unmarshal(data)
		require.NoError(t, err)
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no outbound datagram")
		return nil
	}
}

type events struct {
	registered   chan struct{}
	unregistered chan struct{}
	updated      chan struct{}
	bootstrapped chan *model.Security
	values       chan model.Path
	errs         chan ErrorKind
}

func newEvents() *events {
	return &events{
		registered:   make(chan struct{}, 4),
		unregistered: make(chan struct{}, 4),
		updated:      make(chan struct{}, 4),
		bootstrapped: make(chan *model.Security, 4),
		values:       make(chan model.Path, 16),
		errs:         make(chan ErrorKind, 4),
	}
}

func (e *events) BootstrapDone(s *model.Security) { e.bootstrapped <- s }
func (e *events) ObjectRegistered()               { e.registered <- struct{}{} }
func (e *events) RegistrationUpdated()            { e.updated <- struct{}{} }
func (e *events) ObjectUnregistered()             { e.unregistered <- struct{}{} }
func (e *events) ValueUpdated(p model.Path)       { e.values <- p }
func (e *events) Error(k ErrorKind, err error)    { e.errs <- k }

func newClient(t *testing.T) (*Interface, *events, *recordingTransport) {
	t.Helper()
	tr := newRecordingTransport()
	obs := newEvents()
	c, err := New(obs, Config{
		Endpoint: model.Endpoint{
			Name:     "lwm2m-endpoint",
			Type:     "test",
			Lifetime: 3600,
		},
		Transport: tr,
		Clock:     timer.NewFakeClock(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	require.NoError(t, c.Start())
	t.Cleanup(c.Stop)
	return c, obs, tr
}

func TestNewRequiresValidEndpoint(t *testing.T) {
	_, err := New(newEvents(), Config{
		Endpoint: model.Endpoint{Name: "", Lifetime: 3600},
	})
	require.ErrorIs(t, err, model.ErrEmptyEndpointName)

	_, err = New(newEvents(), Config{
		Endpoint: model.Endpoint{Name: "e", Lifetime: 0},
	})
	require.ErrorIs(t, err, model.ErrInvalidLifetime)
}

func TestNewObjectRefusesReservedIDs(t *testing.T) {
	c, _, _ := newClient(t)
	for _, id := range []uint16{0, 1, 3, 7} {
		_, err := c.NewObject(id, "nope")
		assert.ErrorIs(t, err, ErrReservedObjectID, "id %d", id)
	}
	obj, err := c.NewObject(42, "app")
	require.NoError(t, err)
	assert.Equal(t, uint16(42), obj.ID())
}

func TestRegisterThroughFacade(t *testing.T) {
	c, obs, tr := newClient(t)

	sec, err := c.NewSecurity(model.ManagementServer)
	require.NoError(t, err)
	require.NoError(t, sec.SetServerURI("coap://127.0.0.1:5683"))
	require.NoError(t, sec.SetMode(model.SecurityNoSec))

	dev, err := c.NewDevice(model.DeviceInfo{Manufacturer: "arm", ModelNumber: "2015", SerialNumber: "12345"})
	require.NoError(t, err)
	obj, err := c.NewObject(42, "app")
	require.NoError(t, err)
	inst, err := obj.CreateInstance(0)
	require.NoError(t, err)
	r, err := inst.AddResource(model.ResourceMetadata{
		ID: 1, Name: "value", Type: model.TypeString, Operations: model.OpReadWrite, Observable: true,
	})
	require.NoError(t, err)
	require.NoError(t, r.SetValue("MyValue"))

	c.Register(sec, []*model.Object{dev.Object(), obj})

	req := tr.next(t)
	require.Equal(t, codes.POST, req.Code)
	assert.Contains(t, string(req.Payload), "</3/0>")
	assert.Contains(t, string(req.Payload), "</42/0>")

	resp := coap.Response(req, codes.Created)
	resp.Options = coap.AppendPath(resp.Options, message.LocationPath, "/rd/abc123")
	data, err := coap.Marshal(resp)
	require.NoError(t, err)
	tr.push(data)

	select {
	case <-obs.registered:
	case <-time.After(2 * time.Second):
		t.Fatal("ObjectRegistered not fired")
	}
}

func TestSetResourceValueFiresValueUpdated(t *testing.T) {
	c, obs, _ := newClient(t)

	obj, err := c.NewObject(42, "app")
	require.NoError(t, err)
	inst, err := obj.CreateInstance(0)
	require.NoError(t, err)
	_, err = inst.AddResource(model.ResourceMetadata{
		ID: 1, Name: "value", Type: model.TypeString, Operations: model.OpReadWrite, Observable: true,
	})
	require.NoError(t, err)
	require.NoError(t, c.Engine().Tree().Add(obj))

	path := model.ResourcePath(42, 0, 1)
	require.NoError(t, c.SetResourceValue(path, "NewValue"))

	select {
	case p := <-obs.values:
		assert.Equal(t, path, p)
	case <-time.After(2 * time.Second):
		t.Fatal("ValueUpdated not fired")
	}

	r, err := c.Engine().Tree().ResolveResource(path)
	require.NoError(t, err)
	assert.Equal(t, "NewValue", r.Value())

	err = c.SetResourceValue(model.ResourcePath(99, 0, 0), "x")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpdateWithoutRegistrationSurfacesInvalidState(t *testing.T) {
	c, obs, _ := newClient(t)
	c.UpdateRegistration(0)
	select {
	case k := <-obs.errs:
		assert.Equal(t, KindInvalidState, k)
	case <-time.After(2 * time.Second):
		t.Fatal("error not surfaced")
	}
}

func TestStartStopIdempotence(t *testing.T) {
	tr := newRecordingTransport()
	c, err := New(newEvents(), Config{
		Endpoint:  model.Endpoint{Name: "e", Lifetime: 60},
		Transport: tr,
	})
	require.NoError(t, err)
	require.NoError(t, c.Start())
	require.ErrorIs(t, c.Start(), ErrAlreadyStarted)
	c.Stop()
	c.Stop()
}
