// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !nogpu

package gpu

import (
	"log/slog"
	"sync/atomic"
)

const acceleratorName = "splat-gpu"

// loggerPtr holds the logger handed over by gsplat.SetLogger through
// SplatAccelerator.SetLogger. Records are dropped until then.
var loggerPtr atomic.Pointer[slog.Logger]

func init() { setLogger(nil) }

// slogger returns the logger for device setup, shader compilation and
// dispatch. Every record carries the accelerator name.
func slogger() *slog.Logger { return loggerPtr.Load() }

// setLogger installs l. A nil logger discards.
func setLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	loggerPtr.Store(l.With("accelerator", acceleratorName))
}
