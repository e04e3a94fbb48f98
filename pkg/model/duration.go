// Package model holds small shared types used across configuration and
// request construction.
package model

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Duration is a JSON (un)marshallable version of time.Duration. It accepts
// either a Go duration string ("90m", "2h") or a plain number of seconds.
type Duration time.Duration

// MarshalJSON implements the json.Marshaler interface.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return errors.Wrap(err, "error parsing duration")
		}
		*d = Duration(parsed)
		return nil
	case float64:
		*d = Duration(time.Duration(value) * time.Second)
		return nil
	default:
		return errors.Errorf("invalid duration: %s", b)
	}
}

// Seconds is the duration in whole seconds, the unit the platform's stopping
// conditions take.
func (d Duration) Seconds() int64 {
	return int64(time.Duration(d) / time.Second)
}
