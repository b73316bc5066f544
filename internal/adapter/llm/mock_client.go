package llm

import (
	"context"
	"fmt"
	"time"
)

// MockClient is a mock implementation of Client for testing and local
// runs without an LLM endpoint. It returns a well-formed judge
// response so the full QA chain can execute end to end.
type MockClient struct {
	// Response overrides the returned content when non-empty.
	Response string
	// Err is returned from every call when set.
	Err error
}

// NewMockClient creates a new mock LLM client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Ensure MockClient implements Client.
var _ Client = (*MockClient)(nil)

const mockJudgeJSON = `{
  "scores": {
    "root_cause_identification": 3.5,
    "plan_quality": 3.0,
    "experiment_iterate_loop": 3.0,
    "use_of_signals_tests_logs": 3.5,
    "minimality_of_fix": 4.0,
    "clarity": 3.0
  },
  "overall": 3.3,
  "rationale": "Mock evaluation: the developer followed a reasonable hypothesis-test loop and the fix is targeted.",
  "flags": []
}`

// CreateChatCompletion returns a canned response.
func (m *MockClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	content := m.Response
	if content == "" {
		content = mockJudgeJSON
	}

	return &ChatCompletionResponse{
		ID:      fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []Choice{
			{
				Index: 0,
				Message: &ChatMessage{
					Role:    "assistant",
					Content: content,
				},
				FinishReason: "stop",
			},
		},
		Usage: &Usage{
			PromptTokens:     estimateTokens(req),
			CompletionTokens: len(content) / 4,
			TotalTokens:      estimateTokens(req) + len(content)/4,
		},
	}, nil
}

// estimateTokens provides a rough token count estimate.
func estimateTokens(req *ChatCompletionRequest) int {
	total := 0
	for _, msg := range req.Messages {
		total += len(msg.Content) / 4
	}
	return total
}
