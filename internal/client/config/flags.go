package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/fedinode/internal/flagx"
)

var knownFlags = []string{"-a", "-t", "-session-dir"}

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-a string            address and port of the node admin endpoint
//	-t int               request timeout in seconds
//	-session-dir string  directory holding the saved access token
//
// Arguments it does not know are filtered out first, so the remaining
// positional command words do not disturb parsing.
func parseFlags(cfg *Config, args []string) {
	args = flagx.FilterArgs(args, knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port to access server")
	timeout := fs.Int("t", int(cfg.RequestTimeout.Seconds()), "request timeout (in seconds)")
	fs.StringVar(&cfg.SessionDir, "session-dir", cfg.SessionDir, "session directory")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.RequestTimeout = time.Duration(*timeout) * time.Second
}

// CommandArgs returns the command words in args with every flag and flag
// value removed.
func CommandArgs(args []string) []string {
	return flagx.Positional(args, append([]string{"-c", "-config", "--c", "--config"}, knownFlags...))
}
