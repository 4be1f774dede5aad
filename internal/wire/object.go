// Package wire encodes requests and commands for the simulation server and
// decodes its responses, telemetry and actor metadata.
package wire

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/cage-sim/cageclient/pkg/core"
)

// maxRawInError bounds how much of a raw payload is quoted in error details.
const maxRawInError = 256

// Object is a decoded JSON object. Keys are matched case-insensitively; a
// lookup that matches more than one key is a protocol error.
type Object map[string]any

// Parse decodes data, which must hold a JSON object.
func Parse(data []byte) (Object, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, core.NewError(core.ErrProtocol, "parse", "malformed JSON", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, core.NewError(core.ErrProtocol, "parse", "not a JSON object: "+quote(data), nil)
	}
	return Object(obj), nil
}

// Lookup returns the value stored under key.
func (o Object) Lookup(key string) (any, bool, error) {
	var (
		found   any
		matches []string
	)
	for k, v := range o {
		if strings.EqualFold(k, key) {
			found = v
			matches = append(matches, k)
		}
	}
	switch len(matches) {
	case 0:
		return nil, false, nil
	case 1:
		return found, true, nil
	default:
		sort.Strings(matches)
		return nil, false, core.NewError(core.ErrProtocol, "lookup",
			fmt.Sprintf("ambiguous key %q matches %s", key, strings.Join(matches, ", ")), nil)
	}
}

// Child returns the nested object stored under key.
func (o Object) Child(key string) (Object, bool, error) {
	v, ok, err := o.Lookup(key)
	if err != nil || !ok {
		return nil, false, err
	}
	m, isObj := v.(map[string]any)
	if !isObj {
		return nil, false, typeError(key, "object", v)
	}
	return Object(m), true, nil
}

// Number returns the numeric value stored under key.
func (o Object) Number(key string) (float64, bool, error) {
	v, ok, err := o.Lookup(key)
	if err != nil || !ok {
		return 0, false, err
	}
	f, isNum := v.(float64)
	if !isNum {
		return 0, false, typeError(key, "number", v)
	}
	return f, true, nil
}

// Text returns the string value stored under key.
func (o Object) Text(key string) (string, bool, error) {
	v, ok, err := o.Lookup(key)
	if err != nil || !ok {
		return "", false, err
	}
	s, isStr := v.(string)
	if !isStr {
		return "", false, typeError(key, "string", v)
	}
	return s, true, nil
}

// Keys returns the object's keys in sorted order.
func (o Object) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func typeError(key, want string, got any) error {
	return core.NewError(core.ErrProtocol, "decode", fmt.Sprintf("%q: expected %s, got %T", key, want, got), nil)
}

func quote(data []byte) string {
	if len(data) > maxRawInError {
		return string(data[:maxRawInError]) + "..."
	}
	return string(data)
}
