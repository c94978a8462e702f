package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
)

// Log levels, ordered from quietest to most verbose.
const (
	None = iota
	Error
	Warning
	Info
	Debug
)

var currentLevel atomic.Int32
var logger = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lmicroseconds)

func init() {
	currentLevel.Store(Info)
}

// SetLevel atomically sets the global logging level, clamped to [None, Debug].
func SetLevel(level int) {
	if level < None {
		level = None
	} else if level > Debug {
		level = Debug
	}
	currentLevel.Store(int32(level))
	if level >= Debug {
		output(Debug, "", "Log level set to %d", level)
	}
}

// GetLevel atomically retrieves the current logging level.
func GetLevel() int {
	return int(currentLevel.Load())
}

// ParseLevel converts a level name (case-insensitive) to its integer value.
// On an unknown name it returns Info and an error.
func ParseLevel(levelStr string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
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

// SetupLogging parses levelStr and applies it globally, falling back to Info.
// Returns the level actually set.
func SetupLogging(levelStr string) int {
	level, err := ParseLevel(levelStr)
	if err != nil {
		output(Warning, "", "Invalid log level '%s' provided, defaulting to 'info'. Error: %v", levelStr, err)
	}
	SetLevel(level)
	return level
}

// SetOutput changes the output destination of the global logger.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// Enabled reports whether messages at level would be written.
func Enabled(level int) bool {
	return int32(level) <= currentLevel.Load()
}

// Logf logs a formatted message if level is enabled.
func Logf(level int, format string, v ...interface{}) {
	output(level, "", format, v...)
}

// RunLogger prefixes every message with a pipeline run identifier so that
// interleaved output from concurrent jobs stays attributable.
type RunLogger struct {
	prefix string
}

// WithRun returns a logger scoped to runID. An empty runID yields no prefix.
func WithRun(runID string) RunLogger {
	if runID == "" {
		return RunLogger{}
	}
	return RunLogger{prefix: "[run " + shortID(runID) + "] "}
}

// Logf logs a formatted, run-prefixed message if level is enabled.
func (r RunLogger) Logf(level int, format string, v ...interface{}) {
	output(level, r.prefix, format, v...)
}

// shortID keeps log lines readable for UUID run IDs.
func shortID(id string) string {
	if len(id) > 8 && strings.Count(id, "-") == 4 {
		return id[:8]
	}
	return id
}

// output is shared by Logf and RunLogger.Logf; the caller depth for Debug
// lines is fixed at two frames above it.
func output(level int, scope string, format string, v ...interface{}) {
	if !Enabled(level) {
		return
	}

	var prefix string
	switch level {
	case Error:
		prefix = "[ERROR] "
	case Warning:
		prefix = "[WARN] "
	case Info:
		prefix = "[INFO] "
	case Debug:
		prefix = "[DEBUG] "
	default:
		prefix = "[UNKN] "
	}

	if level == Debug {
		pc, file, line, ok := runtime.Caller(2)
		if ok {
			funcName := "???"
			if f := runtime.FuncForPC(pc); f != nil {
				funcName = filepath.Base(f.Name())
			}
			prefix = fmt.Sprintf("%s%s:%d:%s ", prefix, filepath.Base(file), line, funcName)
		} else {
			prefix += "???:0:??? "
		}
	}

	logger.Println(prefix + scope + fmt.Sprintf(format, v...))
}
