package main

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestStdLogger(t *testing.T) {
	var info, errs bytes.Buffer
	l := stdLogger{infoLog: log.New(&info, "", 0), errorLog: log.New(&errs, "", 0)}

	l.Info("site registered", "site_id", 77)
	l.Error("deregister failed", "site_id", 77, "dangling")
	l.Debug("ignored")

	if got := strings.TrimSpace(info.String()); got != "site registered site_id=77" {
		t.Fatalf("info = %q", got)
	}
	if got := strings.TrimSpace(errs.String()); got != "deregister failed site_id=77 dangling" {
		t.Fatalf("error = %q", got)
	}
}
