// Package validation checks JSON request bodies against embedded schemas.
package validation

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Schema names.
const (
	SessionRequest    = "session_request.json"
	CreateUserRequest = "create_user_request.json"
	SetRoleRequest    = "set_role_request.json"
)

// MaxBodyBytes caps a request body.
const MaxBodyBytes = 64 << 10

// ErrInvalidRequest marks a body that is not JSON or violates its schema.
var ErrInvalidRequest = errors.New("invalid request body")

// Validator holds the compiled request schemas. It is safe for concurrent use.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// New compiles every embedded schema.
func New() (*Validator, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read embedded schemas: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.DefaultDraft(jsonschema.Draft7)

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		raw, err := schemaFS.ReadFile("schemas/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", entry.Name(), err)
		}
		parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", entry.Name(), err)
		}
		if err := compiler.AddResource(entry.Name(), parsed); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", entry.Name(), err)
		}
		names = append(names, entry.Name())
	}

	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(names))}
	for _, name := range names {
		schema, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[name] = schema
	}
	return v, nil
}

// Decode reads body, validates it against schema and unmarshals it into dst.
// Failures wrap ErrInvalidRequest with a message safe to show clients.
func (v *Validator) Decode(schema string, body io.Reader, dst any) error {
	compiled, ok := v.schemas[schema]
	if !ok {
		return fmt.Errorf("unknown schema %q", schema)
	}

	raw, err := io.ReadAll(io.LimitReader(body, MaxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("%w: read failed", ErrInvalidRequest)
	}
	if len(raw) > MaxBodyBytes {
		return fmt.Errorf("%w: body too large", ErrInvalidRequest)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("%w: body is empty", ErrInvalidRequest)
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: malformed JSON", ErrInvalidRequest)
	}
	if err := compiled.Validate(instance); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, formatValidationError(err))
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, err.Error())
	}
	return nil
}

// Message returns the client-facing part of a Decode error.
func Message(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 && errors.Is(err, ErrInvalidRequest) {
		return msg[i+2:]
	}
	return ErrInvalidRequest.Error()
}

// formatValidationError reports the instance path of the deepest failure,
// for example "validation failed at '$.role'".
func formatValidationError(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return "validation failed"
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}

	path := "$"
	var parts []string
	for _, part := range ve.InstanceLocation {
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) > 0 {
		path = "$." + strings.Join(parts, ".")
	}
	return fmt.Sprintf("validation failed at '%s'", path)
}
