// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !nogpu

package gpu

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestSetLogger(t *testing.T) {
	defer setLogger(nil)

	var buf bytes.Buffer
	a := &SplatAccelerator{}
	a.SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	shaderSource("broken", "not wgsl")
	out := buf.String()
	if !strings.Contains(out, "accelerator="+acceleratorName) {
		t.Errorf("record lacks the accelerator name: %q", out)
	}
	if !strings.Contains(out, "shader=broken") {
		t.Errorf("record lacks the shader label: %q", out)
	}

	a.SetLogger(nil)
	if slogger().Enabled(context.Background(), slog.LevelError) {
		t.Error("nil logger still enabled")
	}
}
