package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ShayCichocki/warden/pkg/models"
)

// InProcess dispatches tasks to handlers registered under an endpoint name.
// It is used by tests and single-binary deployments.
type InProcess struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewInProcess creates an empty in-process transport.
func NewInProcess() *InProcess {
	return &InProcess{handlers: make(map[string]HandlerFunc)}
}

// Handle registers h for the endpoint, replacing any previous handler.
func (p *InProcess) Handle(endpoint string, h HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[endpoint] = h
}

func (p *InProcess) handler(endpoint string) (HandlerFunc, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.handlers[endpoint]
	return h, ok
}

// Send runs the endpoint handler on a copy of the task. It returns as soon as
// ctx is done even if the handler has not.
func (p *InProcess) Send(ctx context.Context, req Request) (*TaskResult, error) {
	h, ok := p.handler(req.Agent.Endpoint)
	if !ok {
		return nil, NewPermanent("send", fmt.Errorf("no handler for endpoint %q", req.Agent.Endpoint))
	}

	type outcome struct {
		res *TaskResult
		err error
	}
	done := make(chan outcome, 1)
	task := req.Task.Clone()
	go func() {
		res, err := h(ctx, task)
		done <- outcome{res, err}
	}()

	select {
	case <-ctx.Done():
		return nil, NewTransient("send", ctx.Err())
	case o := <-done:
		if o.err != nil {
			var te *Error
			if errors.As(o.err, &te) {
				return nil, o.err
			}
			return nil, NewPermanent("handle", o.err)
		}
		if o.res == nil {
			return nil, NewPermanent("handle", fmt.Errorf("handler returned no result"))
		}
		res := *o.res
		res.TaskID = req.Task.ID
		res.CorrelationID = req.CorrelationID
		if res.AgentID == "" {
			res.AgentID = req.Agent.ID
		}
		return &res, nil
	}
}

// Ping succeeds when a handler is registered for the agent's endpoint.
func (p *InProcess) Ping(_ context.Context, agent models.AgentDescriptor) error {
	if _, ok := p.handler(agent.Endpoint); !ok {
		return NewTransient("ping", fmt.Errorf("no handler for endpoint %q", agent.Endpoint))
	}
	return nil
}

var (
	_ Transport = (*InProcess)(nil)
	_ Pinger    = (*InProcess)(nil)
)
