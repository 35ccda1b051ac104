package logging

import (
	"fmt"
	"os"
)

// EarlyLog reports startup failures that happen before the structured
// logger exists, such as config loading and logger construction.
type EarlyLog struct{}

func NewEarlyLog() *EarlyLog {
	return &EarlyLog{}
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "ERROR: "+msg+"\n", args...)
	os.Exit(1)
}
