package edits

//
// Logging capabilities.
//

import (
	"log"
	"os"
)

// logger is used for package-level messages. Binaries that want structured
// output replace it via SetLogger; the fallback writes through the standard
// library.
var logger Logger = &defaultLogger{}

// SetLogger replaces the package logger. Pass a *log.Logger from
// github.com/apex/log, or anything else satisfying the interface.
func SetLogger(l Logger) {
	if l != nil {
		logger = l
	}
}

// Logger is compatible with github.com/apex/log
type Logger interface {
	// Debugf formats and emits a debug message.
	Debugf(format string, v ...interface{})

	// Infof formats and emits an informational message.
	Infof(format string, v ...interface{})

	// Warnf formats and emits a warning message.
	Warnf(format string, v ...interface{})

	// Errorf formats and emits an error message.
	Errorf(format string, v ...interface{})
}

// defaultLogger is used when the binary does not install its own Logger.
type defaultLogger struct{}

func (dl *defaultLogger) Debugf(format string, v ...interface{}) {
	if os.Getenv("EXTRA_DEBUG") == "1" {
		log.Printf(format, v...)
	}
}

func (dl *defaultLogger) Infof(format string, v ...interface{}) {
	log.Printf("info : "+format, v...)
}

func (dl *defaultLogger) Warnf(format string, v ...interface{}) {
	log.Printf("warn: "+format, v...)
}

func (dl *defaultLogger) Errorf(format string, v ...interface{}) {
	log.Printf("error: "+format, v...)
}
