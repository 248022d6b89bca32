package task

import (
	"context"
	"fmt"
	"sync"
)

// Handler processes one envelope.
type Handler func(ctx context.Context, env Envelope) error

// Dispatcher routes envelopes to handlers by kind.
type Dispatcher struct {
	handlers map[Kind]Handler
	mu       sync.RWMutex
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[Kind]Handler)}
}

// Register installs h for kind, replacing any previous handler.
func (d *Dispatcher) Register(kind Kind, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = h
}

// Handle runs the handler registered for env.Kind.
func (d *Dispatcher) Handle(ctx context.Context, env Envelope) error {
	d.mu.RLock()
	h, ok := d.handlers[env.Kind]
	d.mu.RUnlock()
	if !ok {
		return Permanent(fmt.Errorf("no handler for task kind %q", env.Kind))
	}
	return h(ctx, env)
}

// Inline is a Publisher that hands envelopes straight to a dispatcher in a
// goroutine. It serves single-process deployments and local runs.
type Inline struct {
	dispatcher *Dispatcher
	wg         sync.WaitGroup
	base       context.Context
}

func NewInline(ctx context.Context, dispatcher *Dispatcher) *Inline {
	return &Inline{dispatcher: dispatcher, base: context.WithoutCancel(ctx)}
}

func (p *Inline) Publish(ctx context.Context, env Envelope) error {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(env)
	}()
	return nil
}

func (p *Inline) run(env Envelope) {
	for {
		if err := sleepUntil(p.base, env.NotBefore); err != nil {
			return
		}
		err := p.dispatcher.Handle(p.base, env)
		if err == nil {
			return
		}
		next, ok := continuation(err)
		if !ok {
			logFailure(env, err)
			return
		}
		env = next
	}
}

// Wait blocks until every published envelope has been handled.
func (p *Inline) Wait() {
	p.wg.Wait()
}
