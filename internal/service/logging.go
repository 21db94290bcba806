package service

import (
	"go.uber.org/zap"

	"bdqcore/internal/engine"
)

// EngineLogger adapts a zap logger to the engine's logging seam. The engine
// emits loosely typed key/value pairs; zap's sugared logger takes them as is.
func EngineLogger(l *zap.Logger) engine.Logger {
	return zapLogger{s: l.Sugar()}
}

type zapLogger struct {
	s *zap.SugaredLogger
}

func (z zapLogger) Debug(msg string, keyvals ...any) { z.s.Debugw(msg, keyvals...) }
func (z zapLogger) Info(msg string, keyvals ...any)  { z.s.Infow(msg, keyvals...) }
func (z zapLogger) Warn(msg string, keyvals ...any)  { z.s.Warnw(msg, keyvals...) }
func (z zapLogger) Error(msg string, keyvals ...any) { z.s.Errorw(msg, keyvals...) }
