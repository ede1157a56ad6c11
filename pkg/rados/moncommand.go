package rados

import (
	"encoding/json"
)

// MonCommand builds the JSON body of a monitor command. Every command
// carries a prefix; unless overridden, the response format defaults to
// JSON, which is what the typed decoders in pkg/status expect.
type MonCommand struct {
	fields map[string]any
}

// NewMonCommand starts a command with the given prefix.
func NewMonCommand(prefix string) *MonCommand {
	return &MonCommand{fields: map[string]any{
		"prefix": prefix,
		"format": "json",
	}}
}

// With adds or overrides one field.
func (m *MonCommand) With(key string, value any) *MonCommand {
	m.fields[key] = value
	return m
}

// WithFormat overrides the response format ("json", "xml", "plain").
func (m *MonCommand) WithFormat(format string) *MonCommand {
	return m.With("format", format)
}

// Encode serializes the command body.
func (m *MonCommand) Encode() ([]byte, error) {
	return json.Marshal(m.fields)
}
