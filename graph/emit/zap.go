package emit

import (
	"go.uber.org/zap"
)

// ZapEmitter writes events to a zap logger. Thread-level failures log at
// warn, everything else at debug so steady-state execution stays quiet.
type ZapEmitter struct {
	log *zap.Logger
}

// NewZapEmitter wraps the given logger. A nil logger falls back to
// zap.NewNop().
func NewZapEmitter(log *zap.Logger) *ZapEmitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapEmitter{log: log}
}

func (z *ZapEmitter) Emit(event Event) {
	fields := []zap.Field{
		zap.String("thread_id", event.ThreadID),
		zap.Int("superstep", event.Superstep),
	}
	if event.NodeID != "" {
		fields = append(fields, zap.String("node_id", event.NodeID))
	}
	for k, v := range event.Meta {
		fields = append(fields, zap.Any(k, v))
	}

	if event.Msg == "thread_failed" {
		z.log.Warn(event.Msg, fields...)
		return
	}
	z.log.Debug(event.Msg, fields...)
}
