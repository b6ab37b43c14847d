package model

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/krau/alttext/config"
)

// handle is a lazily-initialized, read-mostly model slot. The atomic
// pointer is the fast path once loaded; the mutex serializes the one-time
// load under concurrent first access.
type handle[T any] struct {
	mu   sync.Mutex
	v    atomic.Pointer[T]
	load func(ctx context.Context) (*T, error)
}

func (h *handle[T]) get(ctx context.Context) (*T, error) {
	if v := h.v.Load(); v != nil {
		return v, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if v := h.v.Load(); v != nil {
		return v, nil
	}
	v, err := h.load(ctx)
	if err != nil {
		return nil, err
	}
	h.v.Store(v)
	return v, nil
}

func (h *handle[T]) ready() bool {
	return h.v.Load() != nil
}

// Registry owns the two model handles for the process lifetime. Handlers
// receive it by injection; there is no package-level model state. Handles
// are immutable once loaded and are never torn down before process exit.
type Registry struct {
	captioner handle[Captioner]
	refiner   handle[Refiner]
}

func NewRegistry(cfg config.Config) *Registry {
	r := &Registry{}
	r.captioner.load = func(ctx context.Context) (*Captioner, error) {
		c, err := LoadCaptioner(ctx, cfg)
		if err != nil {
			slog.Error("Failed to load captioning model", slog.String("error", err.Error()))
			return nil, &LoadError{Name: "captioning", Err: err}
		}
		return c, nil
	}
	r.refiner.load = func(ctx context.Context) (*Refiner, error) {
		f, err := LoadRefiner(ctx, cfg)
		if err != nil {
			slog.Error("Failed to load refinement model", slog.String("error", err.Error()))
			return nil, &LoadError{Name: "refinement", Err: err}
		}
		return f, nil
	}
	return r
}

// Captioner returns the captioning model, loading it on first use.
func (r *Registry) Captioner(ctx context.Context) (*Captioner, error) {
	return r.captioner.get(ctx)
}

// Refiner returns the refinement model, loading it on first use.
func (r *Registry) Refiner(ctx context.Context) (*Refiner, error) {
	return r.refiner.get(ctx)
}

func (r *Registry) CaptionerReady() bool {
	return r.captioner.ready()
}

func (r *Registry) RefinerReady() bool {
	return r.refiner.ready()
}

// WarmUp loads both models eagerly at startup. A failure here is not
// fatal: the next request retries through the lazy path.
func (r *Registry) WarmUp(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := r.Captioner(ctx)
		return err
	})
	g.Go(func() error {
		_, err := r.Refiner(ctx)
		return err
	})
	return g.Wait()
}
