package util

import (
	"log/slog"
	"time"
)

// Trace 用法：defer util.Trace("gen mesh")()
func Trace(msg string) func() {
	start := time.Now()
	slog.Debug("enter " + msg)
	return func() {
		slog.Info("exit "+msg, "cost", time.Since(start))
	}
}
