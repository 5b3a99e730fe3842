package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log levels constants.
const (
	None = iota
	Error
	Warning
	Info
	Debug
)

var (
	currentLevel atomic.Int32
	logger       atomic.Pointer[zap.SugaredLogger]

	// mu guards the sinks and fields the logger is rebuilt from.
	mu       sync.Mutex
	console  zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	fileSink *os.File
	fields   []zap.Field
)

func init() {
	currentLevel.Store(Info)
	mu.Lock()
	rebuild()
	mu.Unlock()
}

// rebuild swaps in a logger for the current sinks. Callers hold mu.
func rebuild() {
	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05.000000")
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), console, zapcore.DebugLevel),
	}
	if fileSink != nil {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.Lock(fileSink),
			zapcore.DebugLevel,
		))
	}
	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(2)).With(fields...)
	logger.Store(l.Sugar())
}

// SetLevel atomically sets the global logging level.
// It clamps the input level to the valid range [None, Debug].
func SetLevel(level int) {
	if level < None {
		level = None
	} else if level > Debug {
		level = Debug
	}
	currentLevel.Store(int32(level))
	if level >= Debug {
		logf(Debug, "Log level set to %d", level)
	}
}

// GetLevel atomically retrieves the current logging level.
func GetLevel() int {
	return int(currentLevel.Load())
}

// ParseLevel converts a log level string (case-insensitive) to its integer representation.
// Returns Info level and an error if the string is invalid.
func ParseLevel(levelStr string) (int, error) {
	switch strings.ToLower(levelStr) {
	case "none":
		return None, nil
	case "error":
		return Error, nil
	case "warn", "warning":
		return Warning, nil
	case "info":
		return Info, nil
	case "debug":
		return Debug, nil
	default:
		return Info, fmt.Errorf("invalid log level string: '%s'", levelStr)
	}
}

// SetupLogging configures the logging level based on an input string.
// Logs a warning and uses Info level if the input string is invalid.
// Returns the finally set log level.
func SetupLogging(levelStr string) int {
	level, err := ParseLevel(levelStr)
	if err != nil {
		logf(Warning, "Invalid log level '%s' provided, defaulting to 'info'. Error: %v", levelStr, err)
	}
	SetLevel(level)
	return level
}

// SetOutput changes the console destination. Tests point it at a buffer.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	console = zapcore.Lock(zapcore.AddSync(w))
	rebuild()
}

// SetLogFile additionally writes JSON lines to path, creating its directory.
// An empty path detaches the current file.
func SetLogFile(path string) error {
	mu.Lock()
	defer mu.Unlock()

	if fileSink != nil {
		_ = fileSink.Close()
		fileSink = nil
	}
	if path != "" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				rebuild()
				return fmt.Errorf("failed to create log directory '%s': %w", dir, err)
			}
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			rebuild()
			return fmt.Errorf("failed to open log file '%s': %w", path, err)
		}
		fileSink = f
	}
	rebuild()
	return nil
}

// SetRunID tags every following entry with run_id. An empty id removes the tag.
func SetRunID(id string) {
	mu.Lock()
	defer mu.Unlock()
	fields = nil
	if id != "" {
		fields = []zap.Field{zap.String("run_id", id)}
	}
	rebuild()
}

// Sync flushes buffered entries and closes the log file, if any.
func Sync() {
	_ = logger.Load().Sync()
	mu.Lock()
	defer mu.Unlock()
	if fileSink != nil {
		_ = fileSink.Close()
		fileSink = nil
		rebuild()
	}
}

// logf does the level check and hands the message to zap.
func logf(level int, format string, v ...interface{}) {
	if int32(level) > currentLevel.Load() {
		return
	}
	l := logger.Load()
	switch level {
	case Error:
		l.Errorf(format, v...)
	case Warning:
		l.Warnf(format, v...)
	case Info:
		l.Infof(format, v...)
	case Debug:
		l.Debugf(format, v...)
	}
}

// Logf logs a formatted message if the specified level is enabled according to the global setting.
func Logf(level int, format string, v ...interface{}) {
	logf(level, format, v...)
}
