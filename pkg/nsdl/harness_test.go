package nsdl

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lwm2m-protocol/lwm2m-go/pkg/coap"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/model"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/timer"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/transport"
)

// fakeTransport records outbound datagrams and lets tests push inbound
// ones.
type fakeTransport struct {
	mu      sync.Mutex
	deliver transport.DeliverFunc
	sent    chan sentDatagram
}

type sentDatagram struct {
	to   transport.Addr
	data []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(chan sentDatagram, 64)}
}

func (f *fakeTransport) Send(to transport.Addr, data []byte) error {
	cp := append([]byte(nil), data...)
	f.sent <- sentDatagram{to: to, data: cp}
	return nil
}

func (f *fakeTransport) OnDeliver(fn transport.DeliverFunc) {
	f.mu.Lock()
	f.deliver = fn
	f.mu.Unlock()
}

func (f *fakeTransport) Start() error { return nil }
func (f *fakeTransport) Close() error { return nil }

// push injects an inbound datagram as if it arrived from addr.
func (f *fakeTransport) push(from transport.Addr, data []byte) {
	f.mu.Lock()
	fn := f.deliver
	f.mu.Unlock()
	fn(from, data)
}

// next waits for one outbound datagram, decoded.
func (f *fakeTransport) next(t *testing.T) (*coap.Message, transport.Addr) {
	t.Helper()
	select {
	case d := <-f.sent:
		m, err := coap.Unmarshal(d.data)
		require.NoError(t, err)
		return m, d.to
	case <-time.After(2 * time.Second):
		t.Fatal("no outbound datagram")
		return nil, transport.Addr{}
	}
}

// expectQuiet asserts nothing is sent for a short grace period.
func (f *fakeTransport) expectQuiet(t *testing.T) {
	t.Helper()
	select {
	case d := <-f.sent:
		t.Fatalf("unexpected outbound datagram: %x", d.data)
	case <-time.After(50 * time.Millisecond):
	}
}

// fakeObserver records callbacks on channels.
type fakeObserver struct {
	bootstrapped chan *model.Security
	registered   chan struct{}
	updated      chan struct{}
	unregistered chan struct{}
	valueUpdated chan model.Path
	errs         chan observedError
}

type observedError struct {
	kind ErrorKind
	err  error
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{
		bootstrapped: make(chan *model.Security, 4),
		registered:   make(chan struct{}, 4),
		updated:      make(chan struct{}, 4),
		unregistered: make(chan struct{}, 4),
		valueUpdated: make(chan model.Path, 16),
		errs:         make(chan observedError, 4),
	}
}

func (o *fakeObserver) BootstrapDone(s *model.Security) { o.bootstrapped <- s }
func (o *fakeObserver) ObjectRegistered()               { o.registered <- struct{}{} }
func (o *fakeObserver) RegistrationUpdated()            { o.updated <- struct{}{} }
func (o *fakeObserver) ObjectUnregistered()             { o.unregistered <- struct{}{} }
func (o *fakeObserver) ValueUpdated(p model.Path)       { o.valueUpdated <- p }
func (o *fakeObserver) Error(k ErrorKind, err error)    { o.errs <- observedError{kind: k, err: err} }

func waitSignal(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func waitError(t *testing.T, ch chan observedError) observedError {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error")
		return observedError{}
	}
}

// testRig bundles an engine wired to fakes.
type testRig struct {
	engine   *Engine
	tr       *fakeTransport
	obs      *fakeObserver
	clock    *timer.FakeClock
	security *model.Security
	appObj   *model.Object
}

var testStart = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func newRig(t *testing.T, lifetime int64) *testRig {
	t.Helper()
	tr := newFakeTransport()
	obs := newFakeObserver()
	clock := timer.NewFakeClock(testStart)

	eng, err := New(obs, Config{
		Endpoint: model.Endpoint{
			Name:     "lwm2m-endpoint",
			Type:     "test",
			Lifetime: lifetime,
			Binding:  model.BindingUDP,
		},
		Transport: tr,
		Clock:     clock,
	})
	require.NoError(t, err)
	require.NoError(t, eng.Start())
	t.Cleanup(eng.Stop)

	secObj := model.NewSecurityObject()
	require.NoError(t, eng.Tree().Add(secObj))
	sec, err := model.NewSecurity(secObj, model.ManagementServer)
	require.NoError(t, err)
	require.NoError(t, sec.SetServerURI("coap://127.0.0.1:5683"))
	require.NoError(t, sec.SetMode(model.SecurityNoSec))

	appObj := model.NewObject(42, "app")
	inst, err := appObj.CreateInstance(0)
	require.NoError(t, err)
	r, err := inst.AddResource(model.ResourceMetadata{
		ID: 1, Name: "value", Type: model.TypeString,
		Operations: model.OpReadWrite, Observable: true,
	})
	require.NoError(t, err)
	require.NoError(t, r.SetValue("MyValue"))

	return &testRig{engine: eng, tr: tr, obs: obs, clock: clock, security: sec, appObj: appObj}
}

// register drives the happy-path registration and returns the server
// address the engine targets.
func (rig *testRig) register(t *testing.T) transport.Addr {
	t.Helper()
	rig.engine.Register(rig.security, []*model.Object{rig.appObj})

	req, to := rig.tr.next(t)
	require.Equal(t, "POST", req.Code.String())
	require.Equal(t, "/rd", coap.Path(req))

	rig.reply(to, registrationCreated(req, "/rd/abc123"))
	waitSignal(t, rig.obs.registered, "ObjectRegistered")
	return to
}

// reply pushes a message into the engine as if sent by the server at from.
func (rig *testRig) reply(from transport.Addr, m *coap.Message) {
	data, err := coap.Marshal(m)
	if err != nil {
		panic(err)
	}
	rig.tr.push(from, data)
}
