package nsdl

import (
	"testing"
	"time"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwm2m-protocol/lwm2m-go/pkg/coap"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/model"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/transport"
)

// observe starts an observation of /42/0/1 with the given token and extra
// queries, returning the priming response.
func observe(t *testing.T, rig *testRig, to transport.Addr, mid uint16, token byte, queries ...string) *coap.Message {
	t.Helper()
	get := &coap.Message{Type: coap.Confirmable, Code: codes.GET, MessageID: mid, Token: message.Token{token}}
	get.Options = coap.AppendPath(get.Options, message.URIPath, "/42/0/1")
	coap.SetObserve(get, 0)
	for _, q := range queries {
		get.Options = coap.AppendQuery(get.Options, q)
	}
	rig.reply(to, get)

	resp, _ := rig.tr.next(t)
	require.Equal(t, codes.Content, resp.Code)
	return resp
}

// setValue mutates the observed resource through the engine-mediated path.
func setValue(t *testing.T, rig *testRig, v string) {
	t.Helper()
	r, err := rig.engine.Tree().ResolveResource(model.ResourcePath(42, 0, 1))
	require.NoError(t, err)
	require.NoError(t, r.SetValue(v))
	rig.engine.ValueUpdated(model.ResourcePath(42, 0, 1))
}

func TestObserveAndNotify(t *testing.T) {
	rig := newRig(t, 3600)
	to := rig.register(t)

	prime := observe(t, rig, to, 0x0300, 0x9A)
	obsVal, ok := coap.Observe(prime)
	require.True(t, ok)
	assert.Equal(t, uint32(0), obsVal)
	assert.Equal(t, []byte("MyValue"), prime.Payload)

	setValue(t, rig, "NewValue")

	notif, _ := rig.tr.next(t)
	require.Equal(t, codes.Content, notif.Code)
	assert.Equal(t, coap.NonConfirmable, notif.Type)
	assert.Equal(t, []byte{0x9A}, []byte(notif.Token))
	obsVal, ok = coap.Observe(notif)
	require.True(t, ok)
	assert.Equal(t, uint32(1), obsVal)
	assert.Equal(t, []byte("NewValue"), notif.Payload)

	// Counters keep increasing across further changes.
	setValue(t, rig, "Third")
	notif2, _ := rig.tr.next(t)
	obsVal2, _ := coap.Observe(notif2)
	assert.Equal(t, uint32(2), obsVal2)
}

func TestObserveCancel(t *testing.T) {
	rig := newRig(t, 3600)
	to := rig.register(t)

	observe(t, rig, to, 0x0301, 0x9A)

	cancel := &coap.Message{Type: coap.Confirmable, Code: codes.GET, MessageID: 0x0302, Token: message.Token{0x9A}}
	cancel.Options = coap.AppendPath(cancel.Options, message.URIPath, "/42/0/1")
	coap.SetObserve(cancel, 1)
	rig.reply(to, cancel)
	resp, _ := rig.tr.next(t)
	require.Equal(t, codes.Content, resp.Code)

	setValue(t, rig, "NewValue")
	rig.tr.expectQuiet(t)
}

func TestPlainGetLeavesObservationUntouched(t *testing.T) {
	rig := newRig(t, 3600)
	to := rig.register(t)

	observe(t, rig, to, 0x0303, 0x9A)

	// A later GET without Observe must not disturb the observation.
	get := &coap.Message{Type: coap.Confirmable, Code: codes.GET, MessageID: 0x0304, Token: message.Token{0x11}}
	get.Options = coap.AppendPath(get.Options, message.URIPath, "/42/0/1")
	rig.reply(to, get)
	resp, _ := rig.tr.next(t)
	require.Equal(t, codes.Content, resp.Code)
	if _, hasObs := coap.Observe(resp); hasObs {
		t.Fatal("plain GET response carries an Observe option")
	}

	setValue(t, rig, "NewValue")
	notif, _ := rig.tr.next(t)
	assert.Equal(t, []byte{0x9A}, []byte(notif.Token))
}

func TestObserveMinPeriodDefersNotification(t *testing.T) {
	rig := newRig(t, 3600)
	to := rig.register(t)

	observe(t, rig, to, 0x0305, 0x9A, "pmin=10")

	setValue(t, rig, "NewValue")
	rig.tr.expectQuiet(t)

	// The deferred notification flushes once pmin elapses.
	rig.clock.Advance(11 * time.Second)
	notif, _ := rig.tr.next(t)
	assert.Equal(t, []byte("NewValue"), notif.Payload)
	obsVal, _ := coap.Observe(notif)
	assert.Equal(t, uint32(1), obsVal)
}

func TestObserveMaxPeriodHeartbeat(t *testing.T) {
	rig := newRig(t, 3600)
	to := rig.register(t)

	observe(t, rig, to, 0x0306, 0x9A, "pmax=30")

	// No change, but pmax forces a notification.
	rig.clock.Advance(31 * time.Second)
	notif, _ := rig.tr.next(t)
	assert.Equal(t, []byte("MyValue"), notif.Payload)
	obsVal, _ := coap.Observe(notif)
	assert.Equal(t, uint32(1), obsVal)
}

func TestObserveNonObservableResource(t *testing.T) {
	rig := newRig(t, 3600)

	inst, _ := rig.appObj.Instance(0)
	_, err := inst.AddResource(model.ResourceMetadata{
		ID: 9, Name: "hidden", Type: model.TypeString, Operations: model.OpRead,
	})
	require.NoError(t, err)
	to := rig.register(t)

	get := &coap.Message{Type: coap.Confirmable, Code: codes.GET, MessageID: 0x0307, Token: message.Token{0x12}}
	get.Options = coap.AppendPath(get.Options, message.URIPath, "/42/0/9")
	coap.SetObserve(get, 0)
	rig.reply(to, get)

	resp, _ := rig.tr.next(t)
	assert.Equal(t, codes.MethodNotAllowed, resp.Code)
}
