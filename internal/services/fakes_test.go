package services

import (
	"context"
	"errors"
	"sync"
)

// scriptedOracle replies with canned responses in call order
type scriptedOracle struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	prompts   []CompletionRequest
}

func (o *scriptedOracle) Complete(_ context.Context, req CompletionRequest) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	i := len(o.prompts)
	o.prompts = append(o.prompts, req)

	if i < len(o.errs) && o.errs[i] != nil {
		return "", o.errs[i]
	}
	if i < len(o.responses) {
		return o.responses[i], nil
	}
	return "", errors.New("no scripted response")
}

func (o *scriptedOracle) calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.prompts)
}
