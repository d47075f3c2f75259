// Package log is a small leveled, keyed logger in the calling convention
// used throughout the teacher repo (log.Info("msg", "key", value, ...)):
// every call site in miner/worker.go, consensus/bsrr/berith.go and
// friends assumes exactly this shape. The teacher vendors its log
// package from upstream go-ethereum rather than carrying its source in
// this tree, so this package is written from scratch against that
// calling convention, using the terminal-detection libraries the
// teacher's go.mod already carries for exactly this purpose.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Level is a logging severity, ordered from least to most severe.
type Level int

const (
	LvlTrace Level = iota
	LvlDebug
	LvlInfo
	LvlWarn
	LvlError
	LvlCrit
)

func (l Level) String() string {
	switch l {
	case LvlTrace:
		return "TRACE"
	case LvlDebug:
		return "DEBUG"
	case LvlInfo:
		return "INFO"
	case LvlWarn:
		return "WARN"
	case LvlError:
		return "ERROR"
	case LvlCrit:
		return "CRIT"
	default:
		return "UNKNOWN"
	}
}

func (l Level) color() *color.Color {
	switch l {
	case LvlTrace:
		return color.New(color.FgHiBlack)
	case LvlDebug:
		return color.New(color.FgBlue)
	case LvlInfo:
		return color.New(color.FgGreen)
	case LvlWarn:
		return color.New(color.FgYellow)
	case LvlError:
		return color.New(color.FgRed)
	case LvlCrit:
		return color.New(color.FgHiRed, color.Bold)
	default:
		return color.New(color.Reset)
	}
}

// Logger is the interface call sites use. The package-level functions
// (Info, Warn, ...) operate on a shared root Logger, the same "global
// plus New(ctx...) for scoped loggers" shape as the teacher's imported
// log package.
type Logger interface {
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
	New(ctx ...interface{}) Logger
}

type logger struct {
	ctx []interface{}
}

var (
	mu        sync.Mutex
	out       io.Writer
	useColor  bool
	threshold int32 = int32(LvlInfo)
)

func init() {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		out = colorable.NewColorableStderr()
		useColor = true
	} else {
		out = os.Stderr
		useColor = false
	}
}

// SetOutput redirects all log output, primarily for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	useColor = false
}

// SetLevel sets the minimum level that will be emitted.
func SetLevel(lvl Level) {
	atomic.StoreInt32(&threshold, int32(lvl))
}

func enabled(lvl Level) bool {
	return int32(lvl) >= atomic.LoadInt32(&threshold)
}

// Root is the package's default logger with no bound context.
var Root Logger = &logger{}

func New(ctx ...interface{}) Logger { return Root.New(ctx...) }

func (l *logger) New(ctx ...interface{}) Logger {
	merged := make([]interface{}, 0, len(l.ctx)+len(ctx))
	merged = append(merged, l.ctx...)
	merged = append(merged, ctx...)
	return &logger{ctx: merged}
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(LvlTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }

// Crit logs at LvlCrit and terminates the process, matching the
// fatal-error policy in §7: WAL I/O failure, record corruption and
// own-block invariant violations are unrecoverable by policy.
func (l *logger) Crit(msg string, ctx ...interface{}) {
	l.write(LvlCrit, msg, ctx)
	os.Exit(1)
}

func (l *logger) write(lvl Level, msg string, ctx []interface{}) {
	if !enabled(lvl) {
		return
	}
	all := make([]interface{}, 0, len(l.ctx)+len(ctx))
	all = append(all, l.ctx...)
	all = append(all, ctx...)

	var sb strings.Builder
	sb.WriteString(time.Now().UTC().Format("2006-01-02T15:04:05.000Z"))
	sb.WriteByte(' ')

	levelStr := "[" + lvl.String() + "]"
	if useColor {
		levelStr = lvl.color().Sprint(levelStr)
	}
	sb.WriteString(levelStr)
	sb.WriteByte(' ')
	sb.WriteString(msg)

	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(&sb, " %v=%v", all[i], all[i+1])
	}
	if len(all)%2 == 1 {
		fmt.Fprintf(&sb, " %v=MISSING", all[len(all)-1])
	}
	if lvl >= LvlError {
		sb.WriteByte(' ')
		sb.WriteString(callerFrame())
	}
	sb.WriteByte('\n')

	mu.Lock()
	io.WriteString(out, sb.String())
	mu.Unlock()
}

// callerFrame reports the immediate caller of the public log functions,
// trimmed to file:line, for Error/Crit records.
func callerFrame() string {
	call := stack.Caller(3)
	return fmt.Sprintf("(%n %+s:%d)", call, call, call)
}

func Trace(msg string, ctx ...interface{}) { Root.Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { Root.Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { Root.Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { Root.Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { Root.Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { Root.Crit(msg, ctx...) }
