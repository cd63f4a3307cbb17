package logging

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

var (
	debugLogger *log.Logger
	logFile     *os.File
	mu          sync.Mutex
)

// Setup initializes the debug logger writing to the given file. Calling it
// twice is a no-op; all logging functions are safe to call without Setup
// (debug lines are then dropped).
func Setup(path string) error {
	mu.Lock()
	defer mu.Unlock()

	if debugLogger != nil {
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return fmt.Errorf("failed to open log file: %v", err)
	}

	logFile = f
	debugLogger = log.New(f, "", log.LstdFlags)
	debugLogger.Printf("--- photodelta debug log started at %s ---", time.Now().Format(time.RFC3339))
	return nil
}

// Close flushes and closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		debugLogger.Printf("--- photodelta debug log closed at %s ---", time.Now().Format(time.RFC3339))
		logFile.Close()
		logFile = nil
		debugLogger = nil
	}
}

// Debugf logs a message when debug logging is enabled.
func Debugf(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if debugLogger != nil {
		debugLogger.Printf(format, args...)
	}
}

// Infof logs an information message.
func Infof(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if debugLogger != nil {
		debugLogger.Printf("INFO: "+format, args...)
	}
}

// Warnf logs a warning message.
func Warnf(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if debugLogger != nil {
		debugLogger.Printf("WARNING: "+format, args...)
	}
}

// Errorf logs an error message.
func Errorf(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if debugLogger != nil {
		debugLogger.Printf("ERROR: "+format, args...)
	}
}

// ImageProcessed records the per-image outcome of a fingerprint or
// verification step.
func ImageProcessed(path string, success bool, errMsg string) {
	mu.Lock()
	defer mu.Unlock()

	if debugLogger == nil {
		return
	}
	if success {
		debugLogger.Printf("PROCESSED: %s", path)
	} else {
		debugLogger.Printf("FAILED: %s - Error: %s", path, errMsg)
	}
}
