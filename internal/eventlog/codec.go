package eventlog

import (
	"encoding/json"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Marshal encodes an event payload.
func Marshal(payload any) (json.RawMessage, error) {
	data, err := codec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}

// Decode unpacks the payload of e into v.
func Decode(e Event, v any) error {
	if !codec.Valid(e.Payload) {
		return fmt.Errorf("event %d (%s): payload is not valid json", e.Sequence, e.Kind)
	}
	if err := codec.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("event %d (%s): %w", e.Sequence, e.Kind, err)
	}
	return nil
}
