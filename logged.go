package tamer

// LoggedValue is a numeric value owned by the recorder. Writes go through
// Set, which never overlaps a snapshot of its channel.
type LoggedValue[T Numeric] struct {
	ch *Channel
	id BindingID
	v  *T
}

// NewLoggedValue registers a value called name on ch, starting at initial.
func NewLoggedValue[T Numeric](ch *Channel, name string, initial T) (*LoggedValue[T], error) {
	v := new(T)
	*v = initial
	id, err := RegisterValue(ch, name, v)
	if err != nil {
		return nil, err
	}
	return &LoggedValue[T]{ch: ch, id: id, v: v}, nil
}

// Set stores x. It waits for a snapshot in progress to finish, and that
// includes delivery to every sink, so a slow synchronous sink delays Set.
// Queue-backed sinks keep the wait to the copy into their queue.
func (l *LoggedValue[T]) Set(x T) {
	l.ch.snapMu.Lock()
	*l.v = x
	l.ch.snapMu.Unlock()
}

// Get returns the current value.
func (l *LoggedValue[T]) Get() T {
	l.ch.snapMu.Lock()
	defer l.ch.snapMu.Unlock()
	return *l.v
}

// ID returns the underlying binding.
func (l *LoggedValue[T]) ID() BindingID { return l.id }

// Enable includes or excludes the value from later snapshots.
func (l *LoggedValue[T]) Enable(on bool) error {
	return l.ch.SetEnabled(l.id, on)
}

// Close unregisters the value.
func (l *LoggedValue[T]) Close() error {
	return l.ch.Unregister(l.id)
}
