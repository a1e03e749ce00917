package configuration

import (
	"reflect"
	"strconv"

	"github.com/mitchellh/mapstructure"
)

// DefaultTrueBool is a switch that is on unless it is configured or overridden otherwise
type DefaultTrueBool struct {
	Value bool
	// whether the value was set in the configuration
	Present bool
	// whether the value was set by a command line flag
	Overridden bool
}

func (b *DefaultTrueBool) Get() bool {
	if b.Present || b.Overridden {
		return b.Value
	}
	return true
}

// SetOverride replaces the configured value for the current process
func (b *DefaultTrueBool) SetOverride(value bool) {
	b.Overridden = true
	b.Value = value
}

// DefaultTrueBoolHookFunc decodes booleans and boolean strings (e.g. from env) into a DefaultTrueBool
func DefaultTrueBoolHookFunc() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf(DefaultTrueBool{})
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != target {
			return data, nil
		}
		value, ok := data.(bool)
		if text, isText := data.(string); isText {
			parsed, err := strconv.ParseBool(text)
			value, ok = parsed, err == nil
		}
		if !ok {
			return data, nil
		}
		return DefaultTrueBool{Value: value, Present: true}, nil
	}
}
