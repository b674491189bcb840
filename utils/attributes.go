package utils

import (
	"reflect"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// AttributeMap is a free-form set of backend specific configuration values, as decoded from
// JSON.
type AttributeMap map[string]interface{}

// Has returns whether the given key is set.
func (am AttributeMap) Has(name string) bool {
	_, has := am[name]
	return has
}

// String returns the value of key as a string, or "" when unset or not a string.
func (am AttributeMap) String(name string) string {
	if s, ok := am[name].(string); ok {
		return s
	}
	return ""
}

// TransformAttributeMap decodes an attribute map into T using the `json` struct tags of T.
// Durations may be given as strings such as "30ms". Keys that T has no field for are an error.
func TransformAttributeMap[T any](attributes AttributeMap) (T, error) {
	var out T

	var forResult interface{}
	toT := reflect.TypeOf(out)
	if toT == nil {
		return out, nil
	}
	if toT.Kind() == reflect.Ptr {
		var ok bool
		out, ok = reflect.New(toT.Elem()).Interface().(T)
		if !ok {
			return out, errors.Errorf("failed to allocate default config type %T", out)
		}
		forResult = out
	} else {
		forResult = &out
	}

	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           forResult,
		Metadata:         &md,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return out, err
	}
	if err := decoder.Decode(map[string]interface{}(attributes)); err != nil {
		return out, err
	}
	if len(md.Unused) != 0 {
		return out, errors.Errorf("unknown attributes %v for %T", md.Unused, out)
	}
	return out, nil
}
