package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {

	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{name: "all flags", args: []string{"-a", "127.0.0.1:9090", "-t", "10", "-session-dir", "/tmp/s"}, expectPanic: false,
			expected: &Config{ServerEndpointAddr: "127.0.0.1:9090", RequestTimeout: 10 * time.Second, SessionDir: "/tmp/s"}},
		{name: "command words are ignored", args: []string{"queue", "run", "-a", "node:1"}, expectPanic: false,
			expected: &Config{ServerEndpointAddr: "node:1"}},
		{name: "incorrect timeout", args: []string{"-a", "127.0.0.1:9090", "-t", "abc"}, expectPanic: true, expected: &Config{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &Config{}

			if !tt.expectPanic {
				require.NotPanics(t, func() { parseFlags(config, tt.args) })
				assert.Empty(t, cmp.Diff(config, tt.expected))
			} else {
				require.Panics(t, func() { parseFlags(config, tt.args) })
			}
		})
	}
}

func TestCommandArgs(t *testing.T) {
	got := CommandArgs([]string{"-a", "node:1", "-c", "cfg.json", "queue", "clear", "12", "-t", "5"})
	assert.Equal(t, []string{"queue", "clear", "12"}, got)
}
