package console

import (
	"go.uber.org/zap/zapcore"
)

// Core returns a zap core that publishes entries at or above level to the hub
func (h *Hub) Core(level zapcore.LevelEnabler) zapcore.Core {
	return &hubCore{LevelEnabler: level, hub: h}
}

type hubCore struct {
	zapcore.LevelEnabler
	hub    *Hub
	fields []zapcore.Field
}

func (c *hubCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &hubCore{LevelEnabler: c.LevelEnabler, hub: c.hub}
	clone.fields = make([]zapcore.Field, 0, len(c.fields)+len(fields))
	clone.fields = append(clone.fields, c.fields...)
	clone.fields = append(clone.fields, fields...)
	return clone
}

func (c *hubCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *hubCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	e := Entry{
		Time:    ent.Time,
		Level:   ent.Level.String(),
		Logger:  ent.LoggerName,
		Message: ent.Message,
	}
	if len(enc.Fields) > 0 {
		e.Fields = enc.Fields
	}
	c.hub.Publish(e)
	return nil
}

func (c *hubCore) Sync() error {
	return nil
}
