package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/CivicPulse/civicpulse/pkg/types"
)

// Error codes reported back to the model
const (
	CodeUnknownTool   = "unknown_tool"
	CodeInvalidInput  = "invalid_input"
	CodeBackendError  = "backend_error"
	CodeInternalError = "internal_error"
)

// ToolError is a failure the model can see and recover from
type ToolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ToolError) Error() string {
	return e.Code + ": " + e.Message
}

// InvalidInput builds an invalid_input error
func InvalidInput(format string, args ...any) *ToolError {
	return &ToolError{Code: CodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// Output is what a handler returns on success
type Output struct {
	Data       any
	Navigation *types.Navigation
}

// Result is the outcome of one tool call: either a payload or an error, never both.
type Result struct {
	CallID     string
	Name       string
	Payload    json.RawMessage
	Err        *ToolError
	Navigation *types.Navigation
	Cached     bool
}

// IsError reports whether the call failed
func (r Result) IsError() bool {
	return r.Err != nil
}

// Content renders the result as the text handed back to the model
func (r Result) Content() string {
	if r.Err != nil {
		b, _ := json.Marshal(map[string]any{"error": r.Err})
		return string(b)
	}
	if len(r.Payload) == 0 {
		return "null"
	}
	return string(r.Payload)
}

func errorResult(call types.ToolCall, code, message string) Result {
	return Result{
		CallID: call.ID,
		Name:   call.Name,
		Err:    &ToolError{Code: code, Message: message},
	}
}

// Params holds decoded tool input
type Params map[string]any

// RequiredString returns a non-empty string parameter or an invalid_input error
func (p Params) RequiredString(name string) (string, error) {
	v, ok := p[name]
	if !ok || v == nil {
		return "", InvalidInput("missing required parameter %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", InvalidInput("parameter %q must be a string", name)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", InvalidInput("parameter %q must not be empty", name)
	}
	return s, nil
}

// String returns an optional string parameter
func (p Params) String(name string) string {
	s, _ := p[name].(string)
	return strings.TrimSpace(s)
}

// Int returns an integer parameter clamped to [min, max], or def when absent.
func (p Params) Int(name string, def, min, max int) (int, error) {
	v, ok := p[name]
	if !ok || v == nil {
		return def, nil
	}
	var n int
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) {
			return 0, InvalidInput("parameter %q must be an integer", name)
		}
		n = int(x)
	case int:
		n = x
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return 0, InvalidInput("parameter %q must be an integer", name)
		}
		n = int(i)
	default:
		return 0, InvalidInput("parameter %q must be an integer", name)
	}
	if n < min {
		n = min
	}
	if n > max {
		n = max
	}
	return n, nil
}

// validate checks required parameters and declared enum values
func (t *Tool) validate(params Params) error {
	for _, p := range t.Parameters {
		v, ok := params[p.Name]
		if !ok || v == nil {
			if p.Required {
				return InvalidInput("missing required parameter %q", p.Name)
			}
			continue
		}
		if len(p.Enum) > 0 {
			s, _ := v.(string)
			found := false
			for _, e := range p.Enum {
				if e == s {
					found = true
					break
				}
			}
			if !found {
				return InvalidInput("parameter %q must be one of %s", p.Name, strings.Join(p.Enum, ", "))
			}
		}
	}
	return nil
}
