package llm

import (
	"log"
	"time"
)

// ModeMock selects the mock client.
const ModeMock = "MOCK"

// New creates an LLM client for the given mode. Mode comes from the
// process configuration, not ambient environment reads.
func New(mode, baseURL, apiKey string, timeout time.Duration) Client {
	if mode == ModeMock {
		log.Println("LLM mode MOCK, using mock LLM client")
		return NewMockClient()
	}
	return NewHTTPClient(baseURL, apiKey, timeout)
}
