package log

import (
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Captures are CBOR sequences using the Event integer keys, canonical map
// ordering and RFC3339Nano timestamps, so two captures of the same session
// are byte-comparable and old readers survive schema growth.

var encMode = sync.OnceValues(func() (cbor.EncMode, error) {
	return cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
})

var decMode = sync.OnceValues(func() (cbor.DecMode, error) {
	return cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}.DecMode()
})

// EncodeEvent renders one event as CBOR bytes.
func EncodeEvent(event Event) ([]byte, error) {
	mode, err := encMode()
	if err != nil {
		return nil, fmt.Errorf("event codec: %w", err)
	}
	data, err := mode.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("event codec: %w", err)
	}
	return data, nil
}

// DecodeEvent parses CBOR bytes into an event.
func DecodeEvent(data []byte) (Event, error) {
	mode, err := decMode()
	if err != nil {
		return Event{}, fmt.Errorf("event codec: %w", err)
	}
	var event Event
	if err := mode.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("event codec: %w", err)
	}
	return event, nil
}
