package log

import (
	"fmt"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"os"
	"time"
)

const (
	DefaultBufferSize    = 256 * 1024
	DefaultFlushInterval = 30 * time.Second
)

// Config selects the log level and sink. Close turns logging off entirely. With Async set, entries are
// buffered in memory and written by a background flush instead of on the logging goroutine.
type Config struct {
	Level string `yaml:"level"`
	Close bool   `yaml:"close"`

	// File is the log file path; empty means stdout.
	File          string        `yaml:"file"`
	Async         bool          `yaml:"async"`
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// New builds the process logger. The returned stop func flushes buffered entries and closes the sink; call it
// once the logger is no longer used. Colored levels are only used when logging to a terminal.
func New(cfg Config) (*zap.Logger, func() error, error) {
	if cfg.Close {
		return zap.NewNop(), func() error { return nil }, nil
	}

	level := zap.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, nil, fmt.Errorf("log: level %q: %w", cfg.Level, err)
		}
	}

	path, tty := "stdout", isatty.IsTerminal(os.Stdout.Fd())
	if cfg.File != "" {
		path, tty = cfg.File, false
	}
	sink, closeSink, err := zap.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("log: open %s: %w", path, err)
	}

	stop := func() error {
		err := sink.Sync()
		closeSink()
		return err
	}
	if cfg.Async {
		buffered := &zapcore.BufferedWriteSyncer{
			WS:            sink,
			Size:          cfg.BufferSize,
			FlushInterval: cfg.FlushInterval,
		}
		if buffered.Size <= 0 {
			buffered.Size = DefaultBufferSize
		}
		if buffered.FlushInterval <= 0 {
			buffered.FlushInterval = DefaultFlushInterval
		}
		sink = buffered
		stop = func() error {
			err := buffered.Stop()
			closeSink()
			return err
		}
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format(time.RFC3339))
	}
	encoderConfig.EncodeLevel = levelEncoder(tty)
	encoder := zapcore.NewJSONEncoder(encoderConfig)
	if tty {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(level))
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel), zap.ErrorOutput(zapcore.Lock(os.Stderr)))
	return logger, stop, nil
}

func levelEncoder(tty bool) zapcore.LevelEncoder {
	if tty {
		return zapcore.CapitalColorLevelEncoder
	}
	return zapcore.CapitalLevelEncoder
}
