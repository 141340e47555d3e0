package tamer

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Sink consumes frames. Announce is called before the first frame of every
// schema version the sink has not yet accepted; a sink that rejects the
// announcement does not receive the frame and is asked again next time.
type Sink interface {
	Announce(schema *Schema) bool
	Consume(frame Frame) bool
}

// BindingID identifies a registration inside its channel.
type BindingID uint64

// BindingInfo describes a registered value.
type BindingInfo struct {
	ID       BindingID
	Name     string
	TypeName string
	Enabled  bool
}

// binding observes application-owned memory at ptr. The application keeps
// that memory valid until the binding is unregistered.
type binding struct {
	id      BindingID
	ptr     unsafe.Pointer
	slot    slot
	enabled bool
}

// plan is the published, immutable result of a schema rebuild.
type plan struct {
	schema   *Schema
	active   []*binding
	variable []*binding
	fixed    int
}

type attachedSink struct {
	sink      Sink
	announced map[uint64]struct{} // guarded by Channel.snapMu
}

// Stats are cumulative channel counters.
type Stats struct {
	Snapshots      uint64
	Rejected       uint64
	SchemaRebuilds uint64
	BufferGrowths  uint64
}

// Channel is an independently-schemed, independently-sequenced set of
// bindings.
type Channel struct {
	name     string
	types    *TypeRegistry
	opts     options
	log      *zap.Logger
	observer Observer

	mu       sync.Mutex
	bindings []*binding
	byName   map[string]*binding
	byID     map[BindingID]*binding
	nextID   BindingID
	dirty    bool
	plan     *plan
	sinks    []*attachedSink // copy-on-write

	// snapMu serializes snapshots and LoggedValue writes. It is never taken
	// while holding mu.
	snapMu    sync.Mutex
	buf       []byte
	seq       uint64
	lastPlan  *plan
	rejectLog *rate.Limiter

	snapshots      atomic.Uint64
	rejected       atomic.Uint64
	schemaRebuilds atomic.Uint64
	bufferGrowths  atomic.Uint64
}

// NewChannel creates a standalone channel. Without WithTypes it gets a
// private TypeRegistry.
func NewChannel(name string, opts ...Option) *Channel {
	return newChannel(name, applyOptions(opts))
}

func newChannel(name string, o options) *Channel {
	if o.types == nil {
		o.types = NewTypeRegistry()
	}
	c := &Channel{
		name:      name,
		types:     o.types,
		opts:      o,
		log:       o.logger.With(zap.String("channel", name)),
		observer:  nopObserver{},
		byName:    make(map[string]*binding),
		byID:      make(map[BindingID]*binding),
		dirty:     true,
		rejectLog: rate.NewLimiter(o.rejectLogRate, o.rejectLogBurst),
	}
	if o.observer != nil {
		if obs := o.observer(name); obs != nil {
			c.observer = obs
		}
	}
	if o.initialBuffer > 0 {
		c.buf = make([]byte, 0, o.initialBuffer)
	}
	return c
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Types returns the TypeRegistry consulted for composite values.
func (c *Channel) Types() *TypeRegistry { return c.types }

// AddSink attaches s; it receives every later snapshot.
func (c *Channel) AddSink(s Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := slices.Clone(c.sinks)
	c.sinks = append(next, &attachedSink{sink: s, announced: make(map[uint64]struct{})})
}

// Sinks returns the attached sinks in attachment order.
func (c *Channel) Sinks() []Sink {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Sink, len(c.sinks))
	for i, a := range c.sinks {
		out[i] = a.sink
	}
	return out
}

// RegisterValue binds a numeric scalar.
func RegisterValue[T Numeric](c *Channel, name string, v *T) (BindingID, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: %q", ErrNilPointer, name)
	}
	return c.add(name, unsafe.Pointer(v), numericSlot(KindOf[T](), 0))
}

// RegisterArray binds a fixed-length numeric array; pass arr[:]. The
// length is taken once, at registration.
func RegisterArray[T Numeric](c *Channel, name string, s []T) (BindingID, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("%w: %q", ErrEmptyArray, name)
	}
	return c.add(name, unsafe.Pointer(unsafe.SliceData(s)), numericSlot(KindOf[T](), len(s)))
}

// RegisterSeq binds a numeric slice whose length may change between
// snapshots.
func RegisterSeq[T Numeric](c *Channel, name string, p *[]T) (BindingID, error) {
	if p == nil {
		return 0, fmt.Errorf("%w: %q", ErrNilPointer, name)
	}
	return c.add(name, unsafe.Pointer(p), numericSlot(KindOf[T](), seqCount))
}

// RegisterString binds a string.
func RegisterString(c *Channel, name string, p *string) (BindingID, error) {
	if p == nil {
		return 0, fmt.Errorf("%w: %q", ErrNilPointer, name)
	}
	return c.add(name, unsafe.Pointer(p), stringSlot())
}

// RegisterCustom binds a composite value, resolving its serializer through
// the channel's TypeRegistry.
func RegisterCustom[T any, PT Described[T]](c *Channel, name string, v *T) (BindingID, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: %q", ErrNilPointer, name)
	}
	ser, err := GetOrCreate[T, PT](c.types)
	if err != nil {
		return 0, err
	}
	return c.add(name, unsafe.Pointer(v), compositeSlot(ser, 0, unsafe.Sizeof(*v)))
}

// Register binds ptr under a type name without any check that ptr really
// holds a value of that type; that is the caller's contract. typeName is a
// numeric kind name, "string", or a registered composite name, optionally
// suffixed with "[N]" (fixed array) or "[]" (slice).
func (c *Channel) Register(name, typeName string, ptr unsafe.Pointer) (BindingID, error) {
	if ptr == nil {
		return 0, fmt.Errorf("%w: %q", ErrNilPointer, name)
	}
	s, err := c.parseSlot(typeName)
	if err != nil {
		return 0, err
	}
	return c.add(name, ptr, s)
}

func (c *Channel) parseSlot(typeName string) (slot, error) {
	base, count := typeName, 0
	if i := strings.IndexByte(typeName, '['); i > 0 && strings.HasSuffix(typeName, "]") {
		base = typeName[:i]
		inner := typeName[i+1 : len(typeName)-1]
		if inner == "" {
			count = seqCount
		} else {
			n, err := strconv.Atoi(inner)
			if err != nil || n <= 0 {
				return slot{}, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
			}
			count = n
		}
	}
	if k, ok := ParseKind(base); ok {
		if k == KindString {
			if count != 0 {
				return slot{}, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
			}
			return stringSlot(), nil
		}
		return numericSlot(k, count), nil
	}
	e, ok := c.types.lookupEntry(base)
	if !ok {
		return slot{}, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}
	var stride uintptr
	if e.goType != nil {
		stride = e.goType.Size()
	} else if count != 0 {
		return slot{}, fmt.Errorf("%w: %s has no in-memory layout for arrays", ErrUnknownType, base)
	}
	return compositeSlot(e.ser, count, stride), nil
}

func (c *Channel) add(name string, ptr unsafe.Pointer, s slot) (BindingID, error) {
	if name == "" {
		return 0, ErrInvalidName
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.byName[name]; dup {
		return 0, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	c.nextID++
	s.name = name
	b := &binding{id: c.nextID, ptr: ptr, slot: s, enabled: true}
	c.bindings = append(c.bindings, b)
	c.byName[name] = b
	c.byID[b.id] = b
	c.dirty = true
	return b.id, nil
}

// Unregister removes a binding.
func (c *Channel) Unregister(id BindingID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBinding, id)
	}
	delete(c.byID, id)
	delete(c.byName, b.slot.name)
	c.bindings = slices.DeleteFunc(c.bindings, func(x *binding) bool { return x == b })
	c.dirty = true
	return nil
}

// SetEnabled includes or excludes a binding from later snapshots without
// dropping the registration.
func (c *Channel) SetEnabled(id BindingID, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBinding, id)
	}
	if b.enabled != enabled {
		b.enabled = enabled
		c.dirty = true
	}
	return nil
}

// Lookup returns the binding registered under name.
func (c *Channel) Lookup(name string) (BindingID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.byName[name]
	if !ok {
		return 0, false
	}
	return b.id, true
}

// Bindings lists registrations in order.
func (c *Channel) Bindings() []BindingInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]BindingInfo, len(c.bindings))
	for i, b := range c.bindings {
		out[i] = BindingInfo{ID: b.id, Name: b.slot.name, TypeName: b.slot.typeName, Enabled: b.enabled}
	}
	return out
}

// Schema returns the schema the next snapshot will use.
func (c *Channel) Schema() *Schema {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentPlanLocked().schema
}

// Stats returns the channel counters.
func (c *Channel) Stats() Stats {
	return Stats{
		Snapshots:      c.snapshots.Load(),
		Rejected:       c.rejected.Load(),
		SchemaRebuilds: c.schemaRebuilds.Load(),
		BufferGrowths:  c.bufferGrowths.Load(),
	}
}

// Update runs fn while no snapshot is in progress, so fn can modify bound
// memory without a snapshot observing a partial write. Like LoggedValue.Set
// it waits out sink delivery of the current snapshot.
func (c *Channel) Update(fn func()) {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	fn()
}

func (c *Channel) currentPlanLocked() *plan {
	if c.dirty || c.plan == nil {
		c.rebuildLocked()
	}
	return c.plan
}

func (c *Channel) rebuildLocked() {
	p := &plan{active: make([]*binding, 0, len(c.bindings))}
	fields := make([]SchemaField, 0, len(c.bindings))
	types := make(map[string]TypeInfo)
	for _, b := range c.bindings {
		if !b.enabled {
			continue
		}
		p.active = append(p.active, b)
		fields = append(fields, b.slot.field())
		if b.slot.fixed >= 0 {
			p.fixed += b.slot.fixed
		} else {
			p.variable = append(p.variable, b)
		}
		collectTypes(b.slot.ser, types)
	}
	p.schema = newSchema(c.name, fields, types, p.fixed)
	c.plan = p
	c.dirty = false
	c.schemaRebuilds.Add(1)
	c.observer.SchemaRebuilt(len(fields))
	c.log.Debug("schema rebuilt",
		zap.Int("fields", len(fields)),
		zap.Uint64("hash", p.schema.Hash),
		zap.Int("fixed_size", p.fixed))
}
