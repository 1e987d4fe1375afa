// Package chat validates the conversation payload supplied by callers.
package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"uigen/pkg/failure"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var allowedRoles = []Role{RoleUser, RoleAssistant}

// Turn is one role-tagged message in a conversation.
type Turn struct {
	Role    Role
	Content string
}

// Payload is a validated inbound request.
type Payload struct {
	Messages []Turn
}

// Policy holds validation rules that vary per deployment.
type Policy struct {
	// AllowEmptyContent accepts turns whose content is empty or whitespace.
	AllowEmptyContent bool
}

// Decode parses a JSON request body and validates it.
func Decode(body []byte, policy Policy) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Payload{}, &failure.SchemaViolation{Reason: fmt.Sprintf("invalid JSON body: %v", err)}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Payload{}, &failure.SchemaViolation{Reason: "invalid JSON body: trailing data after object"}
	}
	return Validate(raw, policy)
}

// Validate checks an already-decoded JSON value and returns the first schema
// violation it finds. Unknown fields are ignored.
func Validate(v any, policy Policy) (Payload, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return Payload{}, violation("", "expected object, got %s", kindOf(v))
	}

	rawMessages, ok := obj["messages"]
	if !ok {
		return Payload{}, violation("messages", "required")
	}
	items, ok := rawMessages.([]any)
	if !ok {
		return Payload{}, violation("messages", "expected array, got %s", kindOf(rawMessages))
	}

	turns := make([]Turn, 0, len(items))
	for i, item := range items {
		turn, err := validateTurn(i, item, policy)
		if err != nil {
			return Payload{}, err
		}
		turns = append(turns, turn)
	}

	return Payload{Messages: turns}, nil
}

func validateTurn(index int, item any, policy Policy) (Turn, error) {
	path := fmt.Sprintf("messages[%d]", index)

	obj, ok := item.(map[string]any)
	if !ok {
		return Turn{}, violation(path, "expected object, got %s", kindOf(item))
	}

	rawRole, ok := obj["role"]
	if !ok {
		return Turn{}, violation(path+".role", "required")
	}
	role, ok := rawRole.(string)
	if !ok {
		return Turn{}, violation(path+".role", "expected string, got %s", kindOf(rawRole))
	}
	if !isAllowedRole(Role(role)) {
		return Turn{}, violation(path+".role", "expected one of %v, got %q", allowedRoles, role)
	}

	rawContent, ok := obj["content"]
	if !ok {
		return Turn{}, violation(path+".content", "required")
	}
	content, ok := rawContent.(string)
	if !ok {
		return Turn{}, violation(path+".content", "expected string, got %s", kindOf(rawContent))
	}
	if !policy.AllowEmptyContent && strings.TrimSpace(content) == "" {
		return Turn{}, violation(path+".content", "must not be empty")
	}

	return Turn{Role: Role(role), Content: content}, nil
}

func isAllowedRole(role Role) bool {
	for _, allowed := range allowedRoles {
		if role == allowed {
			return true
		}
	}
	return false
}

func violation(path, format string, args ...any) *failure.SchemaViolation {
	return &failure.SchemaViolation{Path: path, Reason: fmt.Sprintf(format, args...)}
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64, int, int64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
