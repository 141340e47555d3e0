package tamer

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"unsafe"
)

// TypeRegistry memoizes one Serializer per type name. It is shared by all
// channels of a Registry and never forgets an entry.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]typeEntry
}

type typeEntry struct {
	ser    Serializer
	goType reflect.Type // nil for serializers added by hand
}

// NewTypeRegistry returns an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{types: make(map[string]typeEntry)}
}

// Lookup returns the serializer registered under name.
func (r *TypeRegistry) Lookup(name string) (Serializer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.types[name]
	return e.ser, ok
}

func (r *TypeRegistry) lookupEntry(name string) (typeEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.types[name]
	return e, ok
}

// Add registers a hand-written serializer. Adding the same serializer twice
// is a no-op; a different serializer under a taken name is a conflict.
func (r *TypeRegistry) Add(s Serializer) error {
	name := s.TypeName()
	if k, ok := ParseKind(name); ok && k.IsNumeric() {
		return fmt.Errorf("%w: %s", ErrNumericType, name)
	}
	if err := checkTypeName(name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.types[name]; ok {
		if e.ser == s {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrTypeNameConflict, name)
	}
	r.types[name] = typeEntry{ser: s}
	return nil
}

// Len returns the number of registered types.
func (r *TypeRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

// Names returns the registered type names, sorted.
func (r *TypeRegistry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// GetOrCreate returns the serializer for T under T's own type name,
// synthesizing it on first use.
func GetOrCreate[T any, PT Described[T]](r *TypeRegistry) (Serializer, error) {
	return GetOrCreateNamed[T, PT](r, "")
}

// GetOrCreateNamed is GetOrCreate with an explicit type name; an empty name
// falls back to TypeName().
func GetOrCreateNamed[T any, PT Described[T]](r *TypeRegistry, name string) (Serializer, error) {
	if IsNumeric[T]() {
		return nil, fmt.Errorf("%w: %s", ErrNumericType, reflect.TypeFor[T]())
	}
	if name == "" {
		name = PT(new(T)).TypeName()
	}
	gt := reflect.TypeFor[T]()

	r.mu.RLock()
	if e, ok := r.types[name]; ok {
		r.mu.RUnlock()
		return e.checked(name, gt)
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	res := &resolver{reg: r, inProgress: make(map[string]struct{})}
	return resolveDescribed[T, PT](res, name)
}

// MustGetOrCreate panics where GetOrCreate would return an error.
func MustGetOrCreate[T any, PT Described[T]](r *TypeRegistry) Serializer {
	s, err := GetOrCreate[T, PT](r)
	if err != nil {
		panic(err)
	}
	return s
}

func (e typeEntry) checked(name string, gt reflect.Type) (Serializer, error) {
	if e.goType != gt {
		return nil, fmt.Errorf("%w: %s is %v, not %v", ErrTypeNameConflict, name, e.goType, gt)
	}
	return e.ser, nil
}

// resolver carries one recursive resolution pass. The registry write lock
// is held for its whole lifetime, so nested lookups read r.reg.types
// directly instead of locking again.
type resolver struct {
	reg        *TypeRegistry
	inProgress map[string]struct{}
}

// checkTypeName rejects names a schema could not tell apart from a built-in
// kind or an array field.
func checkTypeName(name string) error {
	if _, builtin := ParseKind(name); builtin || name == "" || strings.ContainsAny(name, "[]") {
		return fmt.Errorf("%w: %q", ErrReservedTypeName, name)
	}
	return nil
}

func resolveDescribed[T any, PT Described[T]](r *resolver, name string) (Serializer, error) {
	gt := reflect.TypeFor[T]()
	if IsNumeric[T]() {
		return nil, fmt.Errorf("%w: %s", ErrNumericType, gt)
	}
	if name == "" {
		name = PT(new(T)).TypeName()
	}
	if err := checkTypeName(name); err != nil {
		return nil, err
	}
	if e, ok := r.reg.types[name]; ok {
		return e.checked(name, gt)
	}
	if _, busy := r.inProgress[name]; busy {
		return nil, fmt.Errorf("%w: %s", ErrRecursiveType, name)
	}
	r.inProgress[name] = struct{}{}
	defer delete(r.inProgress, name)

	ser, err := buildStruct[T, PT](r, name)
	if err != nil {
		return nil, err
	}
	r.reg.types[name] = typeEntry{ser: ser, goType: gt}
	return ser, nil
}

// buildStruct walks T's field description once on a zero sample and
// records where each field lives relative to the instance.
func buildStruct[T any, PT Described[T]](r *resolver, name string) (*structSerializer, error) {
	sample := new(T)
	c := &layoutCollector{
		r:     r,
		owner: name,
		base:  uintptr(unsafe.Pointer(sample)),
		size:  unsafe.Sizeof(*sample),
		seen:  make(map[string]struct{}),
	}
	PT(sample).TypeDef(c)
	if c.err != nil {
		return nil, c.err
	}
	if len(c.slots) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyType, name)
	}

	s := &structSerializer{
		name:   name,
		size:   c.size,
		slots:  c.slots,
		fields: make([]SchemaField, len(c.slots)),
	}
	for i := range c.slots {
		s.fields[i] = c.slots[i].field()
		if s.fixed < 0 {
			continue
		}
		if c.slots[i].fixed < 0 {
			s.fixed = -1
			continue
		}
		s.fixed += c.slots[i].fixed
	}
	return s, nil
}

func wrapField(owner, field string, err error) error {
	return fmt.Errorf("%s.%s: %w", owner, field, err)
}
