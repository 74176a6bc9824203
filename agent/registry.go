package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/BaSui01/agentloop/types"
	"go.uber.org/zap"
)

// Descriptor is the registry's view of a handler.
type Descriptor struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
	Status Status `json:"status"`
	// InFlight is set while an execution has not returned yet, including
	// one the caller stopped waiting for.
	InFlight bool `json:"in_flight,omitempty"`
}

// StatusObserver is notified on every status transition.
type StatusObserver func(name string, from, to Status)

type entry struct {
	handler  Handler
	weight   int
	status   Status
	inflight bool
}

// Registry manages handler registration and per-handler status.
// Names are unique; weights are advisory input to the selection policy.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	order    []string
	observer StatusObserver
	logger   *zap.Logger

	running int
	idle    chan struct{} // closed while running == 0
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	idle := make(chan struct{})
	close(idle)
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger.With(zap.String("component", "handler_registry")),
		idle:    idle,
	}
}

// OnStatusChange installs an observer for status transitions.
func (r *Registry) OnStatusChange(fn StatusObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = fn
}

// Register adds h under h.Name() with the given weight.
func (r *Registry) Register(h Handler, weight int) error {
	if h == nil {
		return types.NewError(types.ErrInvalidRequest, "handler is nil")
	}
	name := h.Name()
	if name == "" {
		return types.NewError(types.ErrInvalidRequest, "handler name is empty")
	}
	if weight < 1 {
		return types.NewError(types.ErrInvalidWeight,
			fmt.Sprintf("handler %q: weight %d", name, weight)).WithCause(ErrInvalidWeight)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return types.NewError(types.ErrDuplicateHandler,
			fmt.Sprintf("handler %q", name)).WithCause(ErrDuplicateHandler)
	}

	r.entries[name] = &entry{handler: h, weight: weight, status: StatusIdle}
	r.order = append(r.order, name)
	r.logger.Info("handler registered",
		zap.String("name", name),
		zap.Int("weight", weight),
	)
	return nil
}

// RegisterFunc registers fn under name.
func (r *Registry) RegisterFunc(name string, weight int, fn HandlerFunc) error {
	return r.Register(NewHandler(name, fn), weight)
}

// Unregister removes a handler. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[name]; !ok {
		return
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.logger.Info("handler unregistered", zap.String("name", name))
}

// Get returns the descriptor for name.
func (r *Registry) Get(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return Descriptor{}, notFound(name)
	}
	return e.descriptor(name), nil
}

// Handler returns the registered handler for name.
func (r *Registry) Handler(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, notFound(name)
	}
	return e.handler, nil
}

// All yields a snapshot of every descriptor. Callers must not depend on the
// order, although it currently follows registration order.
func (r *Registry) All() iter.Seq[Descriptor] {
	return func(yield func(Descriptor) bool) {
		for _, d := range r.snapshot() {
			if !yield(d) {
				return
			}
		}
	}
}

// Descriptors returns all descriptors as a slice.
func (r *Registry) Descriptors() []Descriptor {
	return r.snapshot()
}

// Names returns the registered names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// SetStatus records a status transition. Only the loop is expected to call
// this, around an execution.
func (r *Registry) SetStatus(name string, status Status) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return notFound(name)
	}
	from := e.status
	e.status = status
	observer := r.observer
	r.mu.Unlock()

	if observer != nil && from != status {
		observer(name, from, status)
	}
	return nil
}

// ResetStatuses puts every handler back to idle.
func (r *Registry) ResetStatuses() {
	for _, name := range r.Names() {
		_ = r.SetStatus(name, StatusIdle)
	}
}

func (r *Registry) snapshot() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		out = append(out, e.descriptor(name))
	}
	return out
}

func (e *entry) descriptor(name string) Descriptor {
	return Descriptor{Name: name, Weight: e.weight, Status: e.status, InFlight: e.inflight}
}

// =============================================================================
// ⚙️ 执行
// =============================================================================

// Execute runs the handler registered under name through Invoke. At most
// one execution per name is in flight: while one has not returned, even
// after its caller gave up on it, Execute fails with ErrHandlerBusy.
//
// A positive timeout bounds how long the caller waits. A handler that
// ignores ctx is abandoned, not killed, and keeps its slot until it returns.
func (r *Registry) Execute(ctx context.Context, name string, in *ExecutionContext, timeout time.Duration) (*ExecutionResult, error) {
	e, err := r.acquire(name)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		defer r.release(e)
		return Invoke(ctx, e.handler, in)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res *ExecutionResult
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		res, err := Invoke(ctx, e.handler, in)
		// 先释放再回报，调用方返回后名字已可再次调度
		r.release(e)
		ch <- outcome{res: res, err: err}
	}()

	select {
	case o := <-ch:
		return o.res, o.err
	case <-ctx.Done():
		r.logger.Warn("handler abandoned",
			zap.String("name", name),
			zap.Duration("timeout", timeout),
			zap.Error(ctx.Err()),
		)
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, types.NewError(types.ErrHandlerExecution,
				fmt.Sprintf("handler %q", name)).WithCause(ctx.Err())
		}
		return nil, types.NewError(types.ErrHandlerExecution,
			fmt.Sprintf("handler %q exceeded %s", name, timeout)).WithCause(ErrHandlerTimeout)
	}
}

// Idle returns a channel closed once no execution is in flight.
func (r *Registry) Idle() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idle
}

func (r *Registry) acquire(name string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, notFound(name)
	}
	if e.inflight {
		return nil, types.NewError(types.ErrHandlerExecution,
			fmt.Sprintf("handler %q", name)).WithCause(ErrHandlerBusy)
	}
	e.inflight = true
	if r.running == 0 {
		r.idle = make(chan struct{})
	}
	r.running++
	return e, nil
}

// release frees e's slot. It works on the entry itself so that a handler
// unregistered mid-flight cannot clear a newer registration's flag.
func (r *Registry) release(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.inflight = false
	r.running--
	if r.running == 0 {
		close(r.idle)
	}
}

func notFound(name string) error {
	return types.NewError(types.ErrHandlerNotFound,
		fmt.Sprintf("handler %q", name)).WithCause(ErrHandlerNotFound)
}

// Invoke executes h and converts every failure signal into an error:
// a returned error, a nil result, Success=false, or a panic.
func Invoke(ctx context.Context, h Handler, in *ExecutionContext) (res *ExecutionResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res = nil
			err = types.NewError(types.ErrHandlerExecution,
				fmt.Sprintf("handler %q panicked: %v", h.Name(), rec))
		}
	}()

	res, err = h.Execute(ctx, in)
	if err != nil {
		return res, types.NewError(types.ErrHandlerExecution,
			fmt.Sprintf("handler %q", h.Name())).WithCause(err)
	}
	if res == nil {
		return nil, types.NewError(types.ErrHandlerExecution,
			fmt.Sprintf("handler %q returned no result", h.Name()))
	}
	if res.Timestamp.IsZero() {
		res.Timestamp = timeNow()
	}
	if !res.Success {
		return res, types.NewError(types.ErrHandlerExecution,
			fmt.Sprintf("handler %q reported failure: %s", h.Name(), res.Message))
	}
	return res, nil
}
