// Package logger provides a small leveled logging facade, wrapping
// logrus as the formatting/output engine.
//
// The API shape — New, SetFlags/SetPrefix, per-level Xf/Xln pairs,
// AddHandler, NewFacility/SetDebug for per-component debug gating, and
// CaptureAndRepanic for last-resort panic logging — mirrors the
// contract exposed by this codebase's ancestor logger packages (old
// top-level `logger` and the later `lib/logger`); neither survives in
// this retrieval as buildable source, so the facade is rebuilt from
// their observed test behaviour and backed by logrus.
package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelOK
)

type Handler func(LogLevel, string)

// Logger is the process-wide log sink. main.go holds the Default
// instance; individual components are handed a *Facility rather than
// reaching for Logger directly.
type Logger struct {
	out       *logrus.Logger
	prefix    string
	handlers  map[LogLevel][]Handler
	debugging map[string]bool
}

func New() *Logger {
	out := logrus.New()
	out.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{
		out:       out,
		handlers:  make(map[LogLevel][]Handler),
		debugging: make(map[string]bool),
	}
}

// SetFlags mirrors the stdlib log.Logger flag bits (log.Lshortfile,
// log.Ldate, ...); 0 disables logrus's own timestamp prefix so tests
// can assert on exact message suffixes.
func (l *Logger) SetFlags(flags int) {
	l.out.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: flags&log.Ldate == 0 && flags&log.Ltime == 0,
		FullTimestamp:    true,
	})
}

func (l *Logger) SetPrefix(prefix string) {
	l.prefix = prefix
}

func (l *Logger) AddHandler(minLevel LogLevel, h Handler) {
	l.handlers[minLevel] = append(l.handlers[minLevel], h)
}

func (l *Logger) SetDebug(facility string, enabled bool) {
	l.debugging[facility] = enabled
}

func (l *Logger) isDebugging(facility string) bool {
	return l.debugging[facility]
}

func (l *Logger) dispatch(lvl LogLevel, msg string) {
	if l.prefix != "" {
		msg = l.prefix + ": " + msg
	}
	for min, hs := range l.handlers {
		if lvl >= min {
			for _, h := range hs {
				h(lvl, msg)
			}
		}
	}
	switch lvl {
	case LevelDebug:
		l.out.Debug(msg)
	case LevelInfo:
		l.out.Info(msg)
	case LevelWarn:
		l.out.Warn(msg)
	case LevelOK:
		l.out.Info(msg)
	}
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.dispatch(LevelDebug, fmt.Sprintf(format, args...)) }
func (l *Logger) Debugln(args ...interface{})                { l.dispatch(LevelDebug, fmt.Sprintln(args...)) }
func (l *Logger) Infof(format string, args ...interface{})   { l.dispatch(LevelInfo, fmt.Sprintf(format, args...)) }
func (l *Logger) Infoln(args ...interface{})                  { l.dispatch(LevelInfo, fmt.Sprintln(args...)) }
func (l *Logger) Warnf(format string, args ...interface{})   { l.dispatch(LevelWarn, fmt.Sprintf(format, args...)) }
func (l *Logger) Warnln(args ...interface{})                  { l.dispatch(LevelWarn, fmt.Sprintln(args...)) }
func (l *Logger) Okf(format string, args ...interface{})     { l.dispatch(LevelOK, fmt.Sprintf(format, args...)) }
func (l *Logger) Okln(args ...interface{})                    { l.dispatch(LevelOK, fmt.Sprintln(args...)) }

// CaptureAndRepanic recovers a panic, writes its message and stack
// trace to panic.log next to the running binary (replacing any earlier
// panic.log), and re-panics with
// the original value. Intended to be deferred directly in an actor's
// goroutine entry point so a crash leaves a forensic trail instead of
// silently killing that actor.
func (l *Logger) CaptureAndRepanic() {
	if r := recover(); r != nil {
		l.writePanicLog(r)
		panic(r)
	}
}

func (l *Logger) writePanicLog(r interface{}) {
	bin, err := os.Executable()
	if err != nil {
		bin = os.Args[0]
	}
	logPath := filepath.Join(filepath.Dir(bin), "panic.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%v\n\nStack trace:\n%s\n", r, debug.Stack())
}

// NewFacility returns a logger scoped to a named component, e.g.
// "hub", "filecenter", "download". Debug-level messages through a
// Facility are suppressed unless SetDebug(name, true) was called;
// Info/Warn always pass through.
func (l *Logger) NewFacility(name, description string) *Facility {
	return &Facility{parent: l, name: name, description: description}
}

// Default is the process-wide logger; main.go wires component
// facilities off of it.
var Default = New()

// Facility is a named, leveled logger bound to one component.
type Facility struct {
	parent      *Logger
	name        string
	description string
}

func (f *Facility) debugEnabled() bool {
	return f.parent.isDebugging(f.name)
}

func (f *Facility) Debugf(format string, args ...interface{}) {
	if f.debugEnabled() {
		f.parent.dispatch(LevelDebug, f.prefixed(fmt.Sprintf(format, args...)))
	}
}

func (f *Facility) Debugln(args ...interface{}) {
	if f.debugEnabled() {
		f.parent.dispatch(LevelDebug, f.prefixed(fmt.Sprintln(args...)))
	}
}

func (f *Facility) Infof(format string, args ...interface{}) {
	f.parent.dispatch(LevelInfo, f.prefixed(fmt.Sprintf(format, args...)))
}

func (f *Facility) Infoln(args ...interface{}) {
	f.parent.dispatch(LevelInfo, f.prefixed(fmt.Sprintln(args...)))
}

func (f *Facility) Warnf(format string, args ...interface{}) {
	f.parent.dispatch(LevelWarn, f.prefixed(fmt.Sprintf(format, args...)))
}

func (f *Facility) Warnln(args ...interface{}) {
	f.parent.dispatch(LevelWarn, f.prefixed(fmt.Sprintln(args...)))
}

func (f *Facility) prefixed(msg string) string {
	return "[" + f.name + "] " + msg
}
