// Package corelink encodes and parses RFC 6690 CoRE link-format documents,
// used for the registration payload and /.well-known/core.
package corelink

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrMalformed is returned when a link-format document cannot be parsed.
var ErrMalformed = errors.New("malformed link-format")

// Link is one entry of a link-format document: a target path plus
// attributes. Attributes with an empty value are rendered as bare flags
// (e.g. ";obs").
type Link struct {
	Path       string
	Attributes map[string]string
}

// NewLink creates a link for the given path.
func NewLink(path string) Link {
	return Link{Path: path, Attributes: make(map[string]string)}
}

// SetAttribute sets an attribute. An empty value makes it a bare flag.
func (l Link) SetAttribute(key, value string) Link {
	l.Attributes[key] = value
	return l
}

// Encode renders links as a link-format document:
//
//	</3/0/0>;rt="oma.lwm2m",</42/0/1>;obs
//
// Attribute values are double-quoted unless they are plain numbers.
func Encode(links []Link) string {
	parts := make([]string, 0, len(links))
	for _, l := range links {
		var b strings.Builder
		b.WriteByte('<')
		b.WriteString(l.Path)
		b.WriteByte('>')
		for _, key := range sortedKeys(l.Attributes) {
			b.WriteByte(';')
			b.WriteString(key)
			if v := l.Attributes[key]; v != "" {
				b.WriteByte('=')
				b.WriteString(quoteValue(v))
			}
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, ",")
}

// Parse decodes a link-format document.
func Parse(doc string) ([]Link, error) {
	if strings.TrimSpace(doc) == "" {
		return nil, nil
	}
	var links []Link
	for _, entry := range splitTop(doc) {
		segs := strings.Split(entry, ";")
		target := strings.TrimSpace(segs[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			return nil, fmt.Errorf("%w: bad target %q", ErrMalformed, target)
		}
		l := NewLink(target[1 : len(target)-1])
		for _, attr := range segs[1:] {
			attr = strings.TrimSpace(attr)
			if attr == "" {
				return nil, fmt.Errorf("%w: empty attribute in %q", ErrMalformed, entry)
			}
			key, value, found := strings.Cut(attr, "=")
			if found {
				value = strings.Trim(value, `"`)
			}
			l.Attributes[key] = value
		}
		links = append(links, l)
	}
	return links, nil
}

// splitTop splits on commas that separate links, leaving quoted commas
// intact.
func splitTop(doc string) []string {
	var parts []string
	var cur strings.Builder
	inQuote := false
	for _, r := range doc {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case r == ',' && !inQuote:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// quoteValue double-quotes every value except plain numbers.
func quoteValue(v string) string {
	for _, r := range v {
		if r < '0' || r > '9' {
			return `"` + v + `"`
		}
	}
	return v
}
