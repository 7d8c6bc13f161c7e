package api

import (
	"context"
	"errors"
	"time"
)

var (
	errRegistryStopped = errors.New("registry stopped")
	errNoBuilder       = errors.New("no builder")
)

// registryRequest is a single lookup or creation attempt.
type registryRequest struct {
	key   string
	build func() (*Viewer, error)
	keep  *Viewer
	reply chan registryResponse
}

type registryResponse struct {
	viewer *Viewer
	err    error
}

type registryEntry struct {
	viewer  *Viewer
	expires time.Time
}

// Registry keeps one Viewer per open page and spreadsheet. A single
// goroutine owns the map; idle viewers expire after the TTL.
type Registry struct {
	ttl      time.Duration
	requests chan registryRequest
	sizes    chan chan int
	quit     chan struct{}
	now      func() time.Time
}

// NewRegistry starts the owning goroutine. ttl <= 0 keeps viewers for an
// hour.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	r := &Registry{
		ttl:      ttl,
		requests: make(chan registryRequest),
		sizes:    make(chan chan int),
		quit:     make(chan struct{}),
		now:      time.Now,
	}
	go r.loop(sweepInterval(ttl))
	return r
}

func sweepInterval(ttl time.Duration) time.Duration {
	iv := ttl / 4
	if iv < time.Second {
		iv = time.Second
	}
	if iv > time.Minute {
		iv = time.Minute
	}
	return iv
}

// Close stops the goroutine. Repeated calls are no-ops.
func (r *Registry) Close() {
	select {
	case <-r.quit:
		return
	default:
	}
	close(r.quit)
}

// Get returns the viewer stored under key, building it when absent or
// expired. Every hit extends the viewer's lifetime.
func (r *Registry) Get(ctx context.Context, key string, build func() (*Viewer, error)) (*Viewer, error) {
	return r.do(ctx, registryRequest{key: key, build: build, reply: make(chan registryResponse, 1)})
}

// Keep extends the lifetime of the viewer under key. When the entry already
// expired, v is stored again, unless another viewer replaced it.
func (r *Registry) Keep(ctx context.Context, key string, v *Viewer) error {
	_, err := r.do(ctx, registryRequest{key: key, keep: v, reply: make(chan registryResponse, 1)})
	return err
}

// TTL is the idle lifetime of a viewer.
func (r *Registry) TTL() time.Duration { return r.ttl }

func (r *Registry) do(ctx context.Context, req registryRequest) (*Viewer, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.quit:
		return nil, errRegistryStopped
	case r.requests <- req:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.quit:
		return nil, errRegistryStopped
	case resp := <-req.reply:
		return resp.viewer, resp.err
	}
}

// Len reports the number of live viewers.
func (r *Registry) Len() int {
	reply := make(chan int, 1)
	select {
	case <-r.quit:
		return 0
	case r.sizes <- reply:
	}
	return <-reply
}

func (r *Registry) loop(sweep time.Duration) {
	store := make(map[string]registryEntry)
	ticker := time.NewTicker(sweep)
	defer ticker.Stop()

	for {
		select {
		case <-r.quit:
			return
		case <-ticker.C:
			now := r.now()
			for k, e := range store {
				if !now.Before(e.expires) {
					delete(store, k)
				}
			}
		case reply := <-r.sizes:
			reply <- len(store)
		case req := <-r.requests:
			now := r.now()
			if e, ok := store[req.key]; ok && now.Before(e.expires) {
				e.expires = now.Add(r.ttl)
				store[req.key] = e
				req.reply <- registryResponse{viewer: e.viewer}
				continue
			}
			if req.keep != nil {
				store[req.key] = registryEntry{viewer: req.keep, expires: now.Add(r.ttl)}
				req.reply <- registryResponse{viewer: req.keep}
				continue
			}
			if req.build == nil {
				req.reply <- registryResponse{err: errNoBuilder}
				continue
			}
			v, err := req.build()
			if err != nil {
				delete(store, req.key)
				req.reply <- registryResponse{err: err}
				continue
			}
			store[req.key] = registryEntry{viewer: v, expires: now.Add(r.ttl)}
			req.reply <- registryResponse{viewer: v}
		}
	}
}
