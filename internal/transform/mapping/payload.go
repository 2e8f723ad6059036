package mapping

import "strings"

// Payload is the destination-shaped body built from one event.
type Payload map[string]interface{}

// Clean returns a copy of p without nil values.
func (p Payload) Clean() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out
}

// Present reports whether key holds a value other than nil or "".
func (p Payload) Present(key string) bool {
	v, ok := p[key]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString {
		return s != ""
	}
	return true
}

// NonBlank reports whether key holds a value that is not nil and, for
// strings, not empty after trimming whitespace.
func (p Payload) NonBlank(key string) bool {
	v, ok := p[key]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString {
		return strings.TrimSpace(s) != ""
	}
	return true
}
