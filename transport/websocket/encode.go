package websocket

import (
	"encoding/json"
	"fmt"
)

// EncodeText renders an outbound payload as a text frame. Strings and byte
// slices are sent verbatim; anything else is JSON encoded.
func EncodeText(payload any) (string, error) {
	switch v := payload.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode payload: %w", err)
		}
		return string(data), nil
	}
}
