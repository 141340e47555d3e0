package tamer

import (
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Registry is an explicit directory of channels sharing one TypeRegistry.
// Applications create one and pass it where it is needed; there is no
// process-wide instance.
type Registry struct {
	opts  options
	types *TypeRegistry

	mu       sync.Mutex
	channels map[string]*Channel
	order    []string
	defaults []Sink
}

// NewRegistry creates an empty registry. Options apply to every channel it
// creates.
func NewRegistry(opts ...Option) *Registry {
	o := applyOptions(opts)
	if o.types == nil {
		o.types = NewTypeRegistry()
	}
	return &Registry{
		opts:     o,
		types:    o.types,
		channels: make(map[string]*Channel),
	}
}

// Types returns the shared TypeRegistry.
func (r *Registry) Types() *TypeRegistry { return r.types }

// Channel returns the channel called name, creating it on first request.
// A new channel starts with the default sinks present at that moment.
func (r *Registry) Channel(name string) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.channels[name]; ok {
		return c
	}
	c := newChannel(name, r.opts)
	for _, s := range r.defaults {
		c.AddSink(s)
	}
	r.channels[name] = c
	r.order = append(r.order, name)
	r.opts.logger.Info("channel created",
		zap.String("channel", name),
		zap.Int("default_sinks", len(r.defaults)))
	return c
}

// Lookup returns an existing channel without creating one.
func (r *Registry) Lookup(name string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.channels[name]
	return c, ok
}

// AddDefaultSink adds s to the sinks attached to channels created from now
// on. Channels that already exist are not affected.
func (r *Registry) AddDefaultSink(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = append(r.defaults, s)
}

// Channels lists channel names in creation order.
func (r *Registry) Channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}
