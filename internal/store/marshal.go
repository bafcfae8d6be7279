package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/txmod/internal/value"
)

// marshalProps converts an Object to canonical JSON TEXT for storage.
func marshalProps(props value.Object) (string, error) {
	if props == nil {
		props = value.Object{}
	}
	data, err := value.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("marshal props: %w", err)
	}
	return string(data), nil
}

// unmarshalProps parses canonical JSON TEXT to an Object.
// value.Object decodes numbers via json.Number so large integers survive.
func unmarshalProps(data string) (value.Object, error) {
	if data == "" || data == "{}" {
		return value.Object{}, nil
	}
	var obj value.Object
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal props: %w", err)
	}
	return obj, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
