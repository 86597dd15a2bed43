package emit

// NullEmitter discards all events.
type NullEmitter struct{}

// NewNullEmitter returns an emitter that discards everything. Use it when
// observability is handled elsewhere or not wanted.
func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

func (n *NullEmitter) Emit(Event) {}
