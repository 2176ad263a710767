package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap sugared logger with the constructors the miner uses
type Logger struct {
	*zap.SugaredLogger
	level zap.AtomicLevel
}

// New creates a console logger writing to stdout
func New() *Logger {
	return build(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.Lock(os.Stdout))
}

// NewWriter creates a JSON logger that writes to the provided writer
func NewWriter(w io.Writer) *Logger {
	return build(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(w))
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar(), level: zap.NewAtomicLevel()}
}

// SetVerbose switches between debug and info level
func (l *Logger) SetVerbose(verbose bool) {
	if verbose {
		l.level.SetLevel(zapcore.DebugLevel)
		return
	}
	l.level.SetLevel(zapcore.InfoLevel)
}

// Named returns a child logger tagged with a component name
func (l *Logger) Named(name string) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.Named(name), level: l.level}
}

// With returns a child logger carrying the given key-value pairs
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(args...), level: l.level}
}

// Close flushes buffered entries
func (l *Logger) Close() error {
	return l.Sync()
}

func build(enc zapcore.Encoder, ws zapcore.WriteSyncer) *Logger {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	core := zapcore.NewCore(enc, ws, level)
	return &Logger{SugaredLogger: zap.New(core).Sugar(), level: level}
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}
