package ingestion

import (
	"errors"
	"fmt"
	"strings"

	"OutcomeMarket/internal/command"

	"github.com/ethereum/go-ethereum/common"
)

// CommandSubjectPrefix is followed by the command's wire name, e.g.
// bwmarket.cmd.create_order.
const CommandSubjectPrefix = "bwmarket.cmd."

// ErrMalformedCommand wraps every parse failure. Malformed messages are
// acknowledged and dropped; they can never succeed on redelivery.
var ErrMalformedCommand = errors.New("malformed command")

// CommandSubject returns the subject commands of type t are published on.
func CommandSubject(t command.Type) string {
	return CommandSubjectPrefix + t.String()
}

// CommandTypeFromSubject extracts the wire name from a command subject.
func CommandTypeFromSubject(subject string) (string, bool) {
	name, ok := strings.CutPrefix(subject, CommandSubjectPrefix)
	if !ok || name == "" || strings.Contains(name, ".") {
		return "", false
	}
	return name, true
}

// ParseRawCommand decodes a message body into the command its subject names.
func ParseRawCommand(raw RawCommand) (command.Command, error) {
	name, ok := CommandTypeFromSubject(raw.Subject)
	if !ok {
		return nil, fmt.Errorf("%w: unknown subject %q", ErrMalformedCommand, raw.Subject)
	}
	return ParseCommand(name, raw.Data)
}

// ParseCommand decodes and checks the header of a JSON command.
func ParseCommand(typeName string, data []byte) (command.Command, error) {
	cmd, err := command.Decode(typeName, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	if err := validateHeader(cmd.Head()); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedCommand, typeName, err)
	}
	return cmd, nil
}

func validateHeader(h command.Header) error {
	switch {
	case h.RequestID == "":
		return errors.New("request_id is required")
	case len(h.RequestID) > 128:
		return errors.New("request_id longer than 128 bytes")
	case h.Sender == (common.Address{}):
		return errors.New("sender is required")
	case h.Timestamp.IsZero():
		return errors.New("timestamp is required")
	}
	return nil
}
