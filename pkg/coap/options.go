package coap

import (
	"sort"
	"strings"

	"github.com/plgd-dev/go-coap/v2/message"
)

// SortOptions orders options by option number, preserving the relative
// order of repeated options.
func SortOptions(opts message.Options) {
	sort.SliceStable(opts, func(i, j int) bool { return opts[i].ID < opts[j].ID })
}

// AppendPath splits path on "/" and appends one option per segment under
// the given option id (Uri-Path or Location-Path).
func AppendPath(opts message.Options, id message.OptionID, path string) message.Options {
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg == "" {
			continue
		}
		opts = append(opts, message.Option{ID: id, Value: []byte(seg)})
	}
	return opts
}

// AppendQuery appends one Uri-Query option.
func AppendQuery(opts message.Options, query string) message.Options {
	return append(opts, message.Option{ID: message.URIQuery, Value: []byte(query)})
}

// AppendUint32 appends a uint option encoded big-endian in minimal width;
// zero encodes as a zero-length value.
func AppendUint32(opts message.Options, id message.OptionID, v uint32) message.Options {
	return append(opts, message.Option{ID: id, Value: EncodeUint32(v)})
}

// EncodeUint32 renders v as the minimal-width big-endian byte string used
// for CoAP uint options. Zero is the empty string.
func EncodeUint32(v uint32) []byte {
	switch {
	case v == 0:
		return nil
	case v < 1<<8:
		return []byte{byte(v)}
	case v < 1<<16:
		return []byte{byte(v >> 8), byte(v)}
	case v < 1<<24:
		return []byte{byte(v >> 16), byte(v >> 8), byte(v)}
	default:
		return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	}
}

// DecodeUint32 parses a CoAP uint option value.
func DecodeUint32(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v
}

// OptionUint32 returns the first option with the given id as a uint.
func OptionUint32(opts message.Options, id message.OptionID) (uint32, bool) {
	for _, o := range opts {
		if o.ID == id {
			return DecodeUint32(o.Value), true
		}
	}
	return 0, false
}

// OptionPath joins all options with the given id into a "/"-separated path
// with a leading slash. Returns "" when absent.
func OptionPath(opts message.Options, id message.OptionID) string {
	var segs []string
	for _, o := range opts {
		if o.ID == id {
			segs = append(segs, string(o.Value))
		}
	}
	if len(segs) == 0 {
		return ""
	}
	return "/" + strings.Join(segs, "/")
}

// Path returns the Uri-Path of m, "" when absent.
func Path(m *Message) string {
	return OptionPath(m.Options, message.URIPath)
}

// LocationPath returns the Location-Path of m, "" when absent.
func LocationPath(m *Message) string {
	return OptionPath(m.Options, message.LocationPath)
}

// Queries returns all Uri-Query values of m.
func Queries(m *Message) []string {
	var out []string
	for _, o := range m.Options {
		if o.ID == message.URIQuery {
			out = append(out, string(o.Value))
		}
	}
	return out
}

// Query returns the value of the query parameter named key, e.g.
// Query(m, "pmin") on "pmin=5" returns "5".
func Query(m *Message, key string) (string, bool) {
	prefix := key + "="
	for _, q := range Queries(m) {
		if strings.HasPrefix(q, prefix) {
			return q[len(prefix):], true
		}
		if q == key {
			return "", true
		}
	}
	return "", false
}

// Observe returns the Observe option value of m.
func Observe(m *Message) (uint32, bool) {
	return OptionUint32(m.Options, message.Observe)
}

// ContentFormat returns the Content-Format of m.
func ContentFormat(m *Message) (message.MediaType, bool) {
	v, ok := OptionUint32(m.Options, message.ContentFormat)
	return message.MediaType(v), ok
}

// Accept returns the Accept option of m.
func Accept(m *Message) (message.MediaType, bool) {
	v, ok := OptionUint32(m.Options, message.Accept)
	return message.MediaType(v), ok
}

// SetContentFormat appends a Content-Format option.
func SetContentFormat(m *Message, mt message.MediaType) {
	m.Options = AppendUint32(m.Options, message.ContentFormat, uint32(mt))
}

// SetObserve appends an Observe option.
func SetObserve(m *Message, v uint32) {
	m.Options = AppendUint32(m.Options, message.Observe, v)
}
