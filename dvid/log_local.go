package dvid

import (
	"fmt"
	"log"

	"github.com/natefinch/lumberjack"
)

// LogConfig is the [logging] section of a TOML configuration.
type LogConfig struct {
	Logfile string
	MaxSize int `toml:"max_log_size"`
	MaxAge  int `toml:"max_log_age"`
}

type fileLogger struct {
	stdLogger
	*lumberjack.Logger
}

func (f fileLogger) Shutdown() {
	log.Printf("Closing log file...\n")
	if f.Logger != nil {
		f.Logger.Close()
	}
}

// SetLogger creates a logger that saves to a rotating log file.  If no log file
// is configured, messages continue to go to stdout.
func (c *LogConfig) SetLogger() {
	if c == nil || c.Logfile == "" {
		Infof("Sending log messages to stdout since no log file specified.\n")
		return
	}
	fmt.Printf("Sending log messages to: %s\n", c.Logfile)
	l := &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize, // megabytes
		MaxAge:   c.MaxAge,  // days
	}
	log.SetOutput(l)
	SetLogger(fileLogger{Logger: l})
}
