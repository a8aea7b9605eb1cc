package coap

import (
	"errors"
	"fmt"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"
	udp "github.com/plgd-dev/go-coap/v2/udp/message"
)

// Message is the CoAP/UDP message exchanged with the server.
type Message = udp.Message

// Message types, re-exported for callers that do not import go-coap.
const (
	Confirmable     = udp.Confirmable
	NonConfirmable  = udp.NonConfirmable
	Acknowledgement = udp.Acknowledgement
	Reset           = udp.Reset
)

// MediaTypeTLV is the OMA-TLV content format (11542). go-coap predates the
// registration, so the value is declared here.
const MediaTypeTLV message.MediaType = 11542

// CodeConflict is response code 4.09, returned on instance-id collisions.
const CodeConflict = codes.Code(137)

// ErrDecode is returned when an inbound datagram is not a CoAP message.
var ErrDecode = errors.New("coap decode")

// Marshal encodes m to wire bytes. Options are sorted by option number
// first, as delta encoding requires.
func Marshal(m *Message) ([]byte, error) {
	SortOptions(m.Options)
	size, err := m.Size()
	if err != nil {
		return nil, fmt.Errorf("coap encode: %w", err)
	}
	buf := make([]byte, size)
	n, err := m.MarshalTo(buf)
	if err != nil {
		return nil, fmt.Errorf("coap encode: %w", err)
	}
	return buf[:n], nil
}

// Unmarshal decodes one CoAP message from data.
func Unmarshal(data []byte) (*Message, error) {
	m := &Message{Options: make(message.Options, 0, 16)}
	if _, err := m.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return m, nil
}

// NewToken returns a fresh 8-byte token for a client-initiated exchange.
func NewToken() message.Token {
	t, err := message.GetToken()
	if err != nil {
		// crypto/rand failure leaves no usable entropy source.
		panic(fmt.Sprintf("coap: token generation failed: %v", err))
	}
	return t
}

// IsRequest reports whether code is a CoAP request method.
func IsRequest(code codes.Code) bool {
	switch code {
	case codes.GET, codes.POST, codes.PUT, codes.DELETE:
		return true
	default:
		return false
	}
}

// IsSuccess reports whether code is a 2.xx response.
func IsSuccess(code codes.Code) bool {
	return code >= codes.Created && code < codes.BadRequest
}

// Ack builds an empty ACK for mid, used to acknowledge a confirmable
// separate response; piggybacked responses are built with Response instead.
func Ack(mid uint16) *Message {
	return &Message{Type: Acknowledgement, Code: codes.Empty, MessageID: mid}
}

// ResetMessage builds an RST for mid.
func ResetMessage(mid uint16) *Message {
	return &Message{Type: Reset, Code: codes.Empty, MessageID: mid}
}

// Response builds a piggybacked response to req with the given code.
func Response(req *Message, code codes.Code) *Message {
	typ := Acknowledgement
	if req.Type != Confirmable {
		typ = NonConfirmable
	}
	return &Message{
		Type:      typ,
		Code:      code,
		MessageID: req.MessageID,
		Token:     req.Token,
		Options:   make(message.Options, 0, 8),
	}
}
