package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		verbose bool
		debug   bool
		want    zapcore.Level
	}{
		{"default", "info", false, false, zap.InfoLevel},
		{"verbose raises info", "info", true, false, zap.DebugLevel},
		{"verbose keeps explicit level", "warn", true, false, zap.WarnLevel},
		{"debug wins", "error", false, true, zap.DebugLevel},
		{"warning alias", "WARNING", false, false, zap.WarnLevel},
		{"error", "error", false, false, zap.ErrorLevel},
		{"unknown falls back to info", "chatty", false, false, zap.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.level, tt.verbose, tt.debug).Level())
		})
	}
}

func TestStringSliceToAnySlice(t *testing.T) {
	assert.Equal(t, []any{"a.hcl", "dir"}, stringSliceToAnySlice([]string{"a.hcl", "dir"}))
	assert.Empty(t, stringSliceToAnySlice(nil))
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"server", "send", "listen"} {
		assert.True(t, names[want], "missing command %q", want)
	}
}
