package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/fedinode/internal/flagx"
)

var knownFlags = []string{
	"-a", "-w", "-base", "-d", "-s", "-t", "-log-level", "-insecure-compat", "-registrations",
	"-media", "-s3-user", "-s3-password", "-s3-bucket", "-s3-region", "-s3-endpoint",
}

// parseFlags overlays command-line flags on config.
//
//	-a string          gRPC admin bind address (":50051")
//	-w string          HTTP federation bind address (":8080")
//	-base string       public base URL ("https://pod.example/")
//	-d string          PostgreSQL DSN
//	-s string          secret key (JWT signing, GUID namespace)
//	-t int             access token validity, minutes
//	-log-level string  debug|info|warn|error
//	-insecure-compat   skip embedded author signature checks on private messages
//	-registrations     accept signups
//	-media string      s3|memory
//	-s3-*              object storage settings
//
// Unknown arguments are filtered out first; a malformed known flag panics.
func parseFlags(config *Config, args []string) {
	args = flagx.FilterArgs(args, knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "gRPC admin address")
	fs.StringVar(&config.EndpointAddrHTTP, "w", config.EndpointAddrHTTP, "HTTP federation address")
	fs.StringVar(&config.BaseURL, "base", config.BaseURL, "public base URL")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	accessTokenMinutes := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access token validity (in minutes)")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "log level")
	fs.BoolVar(&config.InsecureCompat, "insecure-compat", config.InsecureCompat, "skip embedded author signature checks")
	fs.BoolVar(&config.RegistrationsOpen, "registrations", config.RegistrationsOpen, "accept signups")
	fs.StringVar(&config.MediaBackend, "media", config.MediaBackend, "media backend (s3|memory)")
	fs.StringVar(&config.S3RootUser, "s3-user", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "s3-password", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "s3-bucket", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "s3-region", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "s3-endpoint", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenMinutes) * time.Minute
}
