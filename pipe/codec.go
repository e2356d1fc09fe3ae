package pipe

import (
	"encoding/json"
	"fmt"
)

// encodePayload converts outbound data to bytes: byte slices and strings
// pass through, everything else is JSON-marshalled. text reports whether
// the payload started as a string.
func encodePayload(data any) (payload []byte, text bool, err error) {
	switch x := data.(type) {
	case nil:
		return nil, false, nil
	case []byte:
		return x, false, nil
	case string:
		return []byte(x), true, nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, false, fmt.Errorf("encode payload: %w", err)
		}
		return b, true, nil
	}
}

// decodePayload parses inbound bytes as JSON when possible; otherwise the
// raw bytes are delivered unchanged.
func decodePayload(b []byte) any {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return b
	}
	return v
}
