package emit

// Emitter receives observability events from workflow execution.
//
// Implementations must be safe for concurrent use and must not block or
// panic; a slow or failing backend should drop events rather than stall
// the engine.
type Emitter interface {
	Emit(event Event)
}

// Multi fans out each event to every wrapped emitter in order.
type Multi []Emitter

func (m Multi) Emit(event Event) {
	for _, e := range m {
		e.Emit(event)
	}
}
