package model

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Duration is a JSON (un)marshallable version of time.Duration. It accepts either a Go duration
// string ("90s", "5m") or a number of seconds, bare or quoted ("60" from a flag).
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
		if seconds, err := strconv.ParseFloat(value, 64); err == nil {
			*d = Duration(time.Duration(seconds * float64(time.Second)))
			return nil
		}
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return errors.Wrap(err, "error parsing duration")
		}
		*d = Duration(tmp)
		return nil
	case float64:
		*d = Duration(time.Duration(value * float64(time.Second)))
		return nil
	default:
		return errors.Errorf("invalid duration: %s", b)
	}
}

// Seconds returns the duration as a whole number of seconds.
func (d Duration) Seconds() int64 {
	return int64(time.Duration(d) / time.Second)
}
