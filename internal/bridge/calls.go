package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Call is one function invocation requested by the provider.
type Call struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Result answers one Call. Exactly one of Result and Error is set.
type Result struct {
	ToolCallID string `json:"toolCallId,omitempty"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorCode  string `json:"errorCode,omitempty"`
}

type Response struct {
	Results []Result `json:"results"`
}

type envelope struct {
	Message *struct {
		ToolCallList []toolCall `json:"toolCallList"`
		ToolCalls    []toolCall `json:"toolCalls"`
	} `json:"message"`

	// Flat single-call form.
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters"`
}

type toolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

var errNoCalls = errors.New("no function calls in request")

func parseCalls(body []byte) ([]Call, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("malformed request body: %w", err)
	}

	if env.Message != nil {
		list := env.Message.ToolCallList
		if len(list) == 0 {
			list = env.Message.ToolCalls
		}
		calls := make([]Call, 0, len(list))
		for _, tc := range list {
			args, err := decodeArguments(tc.Function.Arguments)
			if err != nil {
				return nil, fmt.Errorf("call %s: %w", tc.ID, err)
			}
			calls = append(calls, Call{ID: tc.ID, Name: strings.TrimSpace(tc.Function.Name), Arguments: args})
		}
		if len(calls) == 0 {
			return nil, errNoCalls
		}
		return calls, nil
	}

	if env.Name == "" {
		return nil, errNoCalls
	}
	args, err := decodeArguments(env.Parameters)
	if err != nil {
		return nil, err
	}
	return []Call{{Name: strings.TrimSpace(env.Name), Arguments: args}}, nil
}

// decodeArguments accepts an object or a JSON string holding an object.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("arguments: %w", err)
		}
		if strings.TrimSpace(s) == "" {
			return map[string]any{}, nil
		}
		raw = []byte(s)
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("arguments must be an object: %w", err)
	}
	return args, nil
}
