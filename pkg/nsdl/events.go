package nsdl

import (
	"github.com/lwm2m-protocol/lwm2m-go/pkg/model"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/timer"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/transport"
)

// eventKind tags the engine event variants.
type eventKind uint8

const (
	// evBootstrap starts the bootstrap flow.
	evBootstrap eventKind = iota

	// evRegister starts the registration flow.
	evRegister

	// evUpdate refreshes the registration.
	evUpdate

	// evUnregister tears the registration down.
	evUnregister

	// evValueChanged re-evaluates notifications for a path.
	evValueChanged

	// evDatagram carries one inbound datagram.
	evDatagram

	// evTimer carries one timer expiry.
	evTimer
)

// event is one unit of work for the engine loop. Which fields are
// populated depends on kind.
type event struct {
	kind eventKind

	// evBootstrap, evRegister
	security *model.Security
	objects  []*model.Object

	// evUpdate
	lifetime int64

	// evValueChanged
	path model.Path

	// evDatagram
	addr transport.Addr
	data []byte

	// evTimer
	timer timer.Event
}
