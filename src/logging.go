package src

// Logger is the sugared logging surface the kernel packages depend on.
// *zap.SugaredLogger satisfies it.
type Logger interface {
	Debugw(msg string, keysAndValues ...any)
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
	Sync() error
}

type noopLogger struct{}

// NoopLogger returns a Logger that drops everything. Handy for tests
// and for collaborators constructed before the real logger exists.
func NoopLogger() Logger { return noopLogger{} }

func (noopLogger) Debugw(string, ...any) {}
func (noopLogger) Infow(string, ...any)  {}
func (noopLogger) Warnw(string, ...any)  {}
func (noopLogger) Errorw(string, ...any) {}
func (noopLogger) Sync() error           { return nil }
