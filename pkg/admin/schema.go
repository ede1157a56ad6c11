package admin

import (
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gorados/gorados/pkg/errors"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// CommandSpec describes one admin-socket command a daemon type accepts.
type CommandSpec struct {
	Prefix string   `json:"prefix"`
	Help   string   `json:"help"`
	Args   []string `json:"args,omitempty"`
}

// Schema is the command surface of one daemon type (mon, osd, client).
type Schema struct {
	Daemon   string        `json:"daemon"`
	Commands []CommandSpec `json:"commands"`

	byPrefix map[string]CommandSpec
}

// LoadSchema returns the embedded command schema for a daemon type.
func LoadSchema(daemon string) (*Schema, error) {
	data, err := schemaFS.ReadFile("schemas/" + daemon + ".json")
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeNotFound,
			"no command schema for daemon type %q", daemon)
	}
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse %s schema: %w", daemon, err)
	}
	s.byPrefix = make(map[string]CommandSpec, len(s.Commands))
	for _, cmd := range s.Commands {
		s.byPrefix[cmd.Prefix] = cmd
	}
	return &s, nil
}

// Daemons lists the daemon types with embedded schemas.
func Daemons() []string {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names
}

// Lookup returns the spec for a prefix, if the daemon supports it.
func (s *Schema) Lookup(prefix string) (CommandSpec, bool) {
	spec, ok := s.byPrefix[prefix]
	return spec, ok
}

// Validate checks a request body against the schema: the prefix must be a
// known command and every argument must be one the command declares. The
// daemon remains the final authority; this catches typos before a socket
// round trip.
func (s *Schema) Validate(req map[string]any) error {
	prefix, _ := req["prefix"].(string)
	if prefix == "" {
		return errors.New(errors.ErrCodeInvalid, "admin command needs a prefix")
	}
	spec, ok := s.byPrefix[prefix]
	if !ok {
		return errors.Newf(errors.ErrCodeInvalid,
			"daemon type %q does not accept %q", s.Daemon, prefix)
	}
	allowed := map[string]bool{"prefix": true, "format": true}
	for _, arg := range spec.Args {
		allowed[arg] = true
	}
	for key := range req {
		if !allowed[key] {
			return errors.Newf(errors.ErrCodeInvalid,
				"command %q does not take argument %q", prefix, key)
		}
	}
	return nil
}

// HelpText renders the schema as the help listing shown by the CLI.
func (s *Schema) HelpText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "commands for %s daemons:\n", s.Daemon)
	for _, cmd := range s.Commands {
		if len(cmd.Args) > 0 {
			fmt.Fprintf(&b, "  %-22s %s (args: %s)\n", cmd.Prefix, cmd.Help, strings.Join(cmd.Args, ", "))
		} else {
			fmt.Fprintf(&b, "  %-22s %s\n", cmd.Prefix, cmd.Help)
		}
	}
	return b.String()
}
