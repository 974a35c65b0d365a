package dvid

import (
	"fmt"
	"log"
	"sync"
	"time"
)

type ModeFlag uint

const (
	DebugMode ModeFlag = iota
	InfoMode
	WarningMode
	ErrorMode
	CriticalMode
	SilentMode
)

var (
	// Verbose is set when we want to be exceptionally verbose.
	Verbose bool

	// mode is the minimum severity that will be logged.
	mode = InfoMode

	logger Logger = stdLogger{}
	logMu  sync.RWMutex
)

// Logger provides a way for the application to log messages at different severities.
// Implementations may write to stdout, a rotating file, or a test buffer.
type Logger interface {
	// Debugf formats its arguments analogous to fmt.Printf and records the text as a log
	// message at Debug level.
	Debugf(format string, args ...interface{})

	// Infof is like Debugf, but at Info level.
	Infof(format string, args ...interface{})

	// Warningf is like Debugf, but at Warning level.
	Warningf(format string, args ...interface{})

	// Errorf is like Debugf, but at Error level.
	Errorf(format string, args ...interface{})

	// Criticalf is like Debugf, but at Critical level.
	Criticalf(format string, args ...interface{})

	// Shutdown makes sure logs are closed.
	Shutdown()
}

// SetLogMode sets the severity required for a log message to be printed.
// For example, SetLogMode(dvid.WarningMode) will log any calls using
// Warningf, Errorf, or Criticalf.  To turn off all logging, use SilentMode.
func SetLogMode(newMode ModeFlag) {
	logMu.Lock()
	mode = newMode
	logMu.Unlock()
}

// SetLogger replaces the package-level logger and returns the previous one.
func SetLogger(l Logger) Logger {
	logMu.Lock()
	defer logMu.Unlock()
	prev := logger
	if l == nil {
		l = stdLogger{}
	}
	logger = l
	return prev
}

func current(severity ModeFlag) Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	if mode > severity {
		return nil
	}
	return logger
}

func Debugf(format string, args ...interface{}) {
	if !Verbose {
		return
	}
	if l := current(DebugMode); l != nil {
		l.Debugf(format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if l := current(InfoMode); l != nil {
		l.Infof(format, args...)
	}
}

func Warningf(format string, args ...interface{}) {
	if l := current(WarningMode); l != nil {
		l.Warningf(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if l := current(ErrorMode); l != nil {
		l.Errorf(format, args...)
	}
}

func Criticalf(format string, args ...interface{}) {
	if l := current(CriticalMode); l != nil {
		l.Criticalf(format, args...)
	}
}

// Shutdown closes the package-level logger.
func Shutdown() {
	logMu.RLock()
	l := logger
	logMu.RUnlock()
	l.Shutdown()
}

// TimeLog adds elapsed time to logging.
// Example:
//
//	mylog := NewTimeLog()
//	...
//	mylog.Debugf("stuff happened")  // Appends elapsed time from NewTimeLog() to message.
type TimeLog struct {
	start time.Time
}

func NewTimeLog() TimeLog {
	return TimeLog{time.Now()}
}

func (t TimeLog) Debugf(format string, args ...interface{}) {
	Debugf(format+": %s\n", append(args, time.Since(t.start))...)
}

func (t TimeLog) Infof(format string, args ...interface{}) {
	Infof(format+": %s\n", append(args, time.Since(t.start))...)
}

func (t TimeLog) Warningf(format string, args ...interface{}) {
	Warningf(format+": %s\n", append(args, time.Since(t.start))...)
}

func (t TimeLog) Errorf(format string, args ...interface{}) {
	Errorf(format+": %s\n", append(args, time.Since(t.start))...)
}

// Elapsed returns the time since the TimeLog was created.
func (t TimeLog) Elapsed() time.Duration {
	return time.Since(t.start)
}

// stdLogger sends messages via the standard log package, whose output may be
// redirected by LogConfig.SetLogger.
type stdLogger struct{}

func (stdLogger) Debugf(format string, args ...interface{}) {
	log.Printf(" DEBUG "+format, args...)
}

func (stdLogger) Infof(format string, args ...interface{}) {
	log.Printf(" INFO "+format, args...)
}

func (stdLogger) Warningf(format string, args ...interface{}) {
	log.Printf(" WARNING "+format, args...)
}

func (stdLogger) Errorf(format string, args ...interface{}) {
	log.Printf(" ERROR "+format, args...)
}

func (stdLogger) Criticalf(format string, args ...interface{}) {
	log.Printf(" CRITICAL "+format, args...)
}

func (stdLogger) Shutdown() {}

// PrefixLogger wraps the package-level logging with a fixed prefix, e.g., the name
// of a storage engine, and satisfies both Logger and badger's logging interface.
type PrefixLogger string

func (p PrefixLogger) Debugf(format string, args ...interface{}) {
	Debugf("%s", string(p)+fmt.Sprintf(format, args...))
}

func (p PrefixLogger) Infof(format string, args ...interface{}) {
	Infof("%s", string(p)+fmt.Sprintf(format, args...))
}

func (p PrefixLogger) Warningf(format string, args ...interface{}) {
	Warningf("%s", string(p)+fmt.Sprintf(format, args...))
}

func (p PrefixLogger) Errorf(format string, args ...interface{}) {
	Errorf("%s", string(p)+fmt.Sprintf(format, args...))
}

func (p PrefixLogger) Criticalf(format string, args ...interface{}) {
	Criticalf("%s", string(p)+fmt.Sprintf(format, args...))
}

func (p PrefixLogger) Shutdown() {}
