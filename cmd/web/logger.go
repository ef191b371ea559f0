package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

// stdLogger adapts the INFO and ERROR loggers to glog.Logger. Arguments are
// key/value pairs appended to the message.
type stdLogger struct {
	infoLog  *log.Logger
	errorLog *log.Logger
}

var _ glog.Logger = stdLogger{}

func (l stdLogger) Trace(string, ...any) {}
func (l stdLogger) Debug(string, ...any) {}

func (l stdLogger) Info(msg string, args ...any) {
	l.infoLog.Output(2, formatFields(msg, args))
}

func (l stdLogger) Warn(msg string, args ...any) {
	l.infoLog.Output(2, "WARN "+formatFields(msg, args))
}

func (l stdLogger) Error(msg string, args ...any) {
	l.errorLog.Output(2, formatFields(msg, args))
}

func (l stdLogger) Fatal(msg string, args ...any) {
	l.errorLog.Fatal(formatFields(msg, args))
}

func (l stdLogger) WithContext(context.Context) glog.Logger {
	return l
}

func formatFields(msg string, args []any) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	return b.String()
}
