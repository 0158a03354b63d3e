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
		{
			name: "all flags",
			args: []string{
				"-a", "127.0.0.1:9090", "-w", ":8081", "-base", "https://pod.example/", "-d", "db", "-s", "secret",
				"-t", "15", "-log-level", "debug", "-insecure-compat=true", "-registrations=false", "-media", "memory",
				"-s3-user", "user", "-s3-password", "password", "-s3-bucket", "bucket", "-s3-region", "us-west-1",
				"-s3-endpoint", "http://endpoint",
			},
			expected: &Config{
				EndpointAddrGRPC:            "127.0.0.1:9090",
				EndpointAddrHTTP:            ":8081",
				BaseURL:                     "https://pod.example/",
				DatabaseDSN:                 "db",
				SecretKey:                   "secret",
				AccessTokenValidityDuration: 15 * time.Minute,
				LogLevel:                    "debug",
				InsecureCompat:              true,
				RegistrationsOpen:           false,
				MediaBackend:                "memory",
				S3RootUser:                  "user",
				S3RootPassword:              "password",
				S3Bucket:                    "bucket",
				S3Region:                    "us-west-1",
				S3BaseEndpoint:              "http://endpoint",
			},
		},
		{
			name:     "unknown flags are ignored",
			args:     []string{"-x", "1", "-t", "2"},
			expected: &Config{AccessTokenValidityDuration: 2 * time.Minute},
		},
		{
			name:        "bad int panics",
			args:        []string{"-t", "soon"},
			expectPanic: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &Config{}

			if tt.expectPanic {
				require.Panics(t, func() { parseFlags(config, tt.args) })
				return
			}
			require.NotPanics(t, func() { parseFlags(config, tt.args) })
			assert.Empty(t, cmp.Diff(tt.expected, config))
		})
	}
}
