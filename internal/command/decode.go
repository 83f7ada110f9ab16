package command

import (
	"encoding/json"
	"fmt"
)

// Decode parses a JSON payload into the command named by typeName.
func Decode(typeName string, payload []byte) (Command, error) {
	t, ok := ParseType(typeName)
	if !ok {
		return nil, fmt.Errorf("unknown command type %q", typeName)
	}
	cmd, _ := New(t)
	if err := json.Unmarshal(payload, cmd); err != nil {
		return nil, fmt.Errorf("decode %s: %w", typeName, err)
	}
	return cmd, nil
}
