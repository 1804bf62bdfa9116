package sigma

import "strings"

// GetField retrieves a nested JSON key using dot notation, e.g.
// "winlog.event_data.ScriptBlockText".
func GetField(key string, data map[string]interface{}) (interface{}, bool) {
	if data == nil {
		return nil, false
	}
	bits := strings.SplitN(key, ".", 2)
	if len(bits) == 0 {
		return nil, false
	}
	val, ok := data[bits[0]]
	if !ok {
		return nil, false
	}
	if len(bits) == 1 {
		return val, true
	}
	switch res := val.(type) {
	case map[string]interface{}:
		return GetField(bits[1], res)
	default:
		return nil, false
	}
}

// DynamicMap is a generic reference implementation of Event for JSON-shaped
// data that has no static Go type, such as ad-hoc events in tests and
// examples.
type DynamicMap map[string]interface{}

// Keywords implements Keyworder. DynamicMap carries no implicit full-text
// field, so keyword matching is never applicable against it.
func (s DynamicMap) Keywords() ([]string, bool) {
	return nil, false
}

// Select implements Selector
func (s DynamicMap) Select(key string) (interface{}, bool) {
	return GetField(key, s)
}
