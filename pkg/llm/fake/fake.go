package fake

import (
	"context"
	"errors"
	"sync"
)

// Generator is a scripted generator for tests. Responses are returned in a
// cycle; queued errors are returned first, one per call.
type Generator struct {
	mu         sync.Mutex
	responses  []string
	errs       []error
	index      int
	lastPrompt string
	callCount  int
}

func NewFakeGenerator(responses ...string) *Generator {
	return &Generator{
		responses: responses,
	}
}

func (f *Generator) Generate(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastPrompt = prompt
	f.callCount++

	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return "", err
	}

	if len(f.responses) == 0 {
		return "", errors.New("no responses configured")
	}

	response := f.responses[f.index]
	f.index = (f.index + 1) % len(f.responses)
	return response, nil
}

func (f *Generator) ModelID() string {
	return "fake/generator"
}

// FailNext queues errors for the next calls.
func (f *Generator) FailNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
}

// LastPrompt returns the last prompt sent to the generator.
func (f *Generator) LastPrompt() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPrompt, f.lastPrompt != ""
}

// GetCallCount returns the number of times the generator was called.
func (f *Generator) GetCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}
