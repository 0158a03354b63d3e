package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/fedinode/internal/flagx"
	"github.com/dmitrijs2005/fedinode/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations
// accept "5s" or integer nanoseconds.
type JsonConfig struct {
	EndpointAddrHTTP            string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC            string         `json:"endpoint_addr_grpc"`
	BaseURL                     string         `json:"base_url"`
	DatabaseDSN                 string         `json:"database_dsn"`
	SecretKey                   string         `json:"secret_key"`
	LogLevel                    string         `json:"log_level"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration"`
	FetchTimeout                timex.Duration `json:"fetch_timeout"`
	DeliveryTimeout             timex.Duration `json:"delivery_timeout"`
	DeliveryConcurrency         int            `json:"delivery_concurrency"`
	QueueFirstBatchBudget       timex.Duration `json:"queue_first_batch_budget"`
	QueueBatchBudget            timex.Duration `json:"queue_batch_budget"`
	InsecureCompat              bool           `json:"insecure_compat"`
	RegistrationsOpen           bool           `json:"registrations_open"`
	ContactCacheSize            int            `json:"contact_cache_size"`
	MediaBackend                string         `json:"media_backend"`
	S3RootUser                  string         `json:"s3_root_user"`
	S3RootPassword              string         `json:"s3_root_password"`
	S3Bucket                    string         `json:"s3_bucket"`
	S3Region                    string         `json:"s3_region"`
	S3BaseEndpoint              string         `json:"s3_base_endpoint"`
}

// parseJson overlays the file named by -c/-config on config. Keys missing
// from the file keep their current values. Unreadable or invalid files
// panic.
func parseJson(config *Config, args []string) {
	path := flagx.ConfigPath(args)
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := fromConfig(config)
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func fromConfig(cfg *Config) *JsonConfig {
	return &JsonConfig{
		EndpointAddrHTTP:            cfg.EndpointAddrHTTP,
		EndpointAddrGRPC:            cfg.EndpointAddrGRPC,
		BaseURL:                     cfg.BaseURL,
		DatabaseDSN:                 cfg.DatabaseDSN,
		SecretKey:                   cfg.SecretKey,
		LogLevel:                    cfg.LogLevel,
		AccessTokenValidityDuration: timex.Duration{Duration: cfg.AccessTokenValidityDuration},
		FetchTimeout:                timex.Duration{Duration: cfg.FetchTimeout},
		DeliveryTimeout:             timex.Duration{Duration: cfg.DeliveryTimeout},
		DeliveryConcurrency:         cfg.DeliveryConcurrency,
		QueueFirstBatchBudget:       timex.Duration{Duration: cfg.QueueFirstBatchBudget},
		QueueBatchBudget:            timex.Duration{Duration: cfg.QueueBatchBudget},
		InsecureCompat:              cfg.InsecureCompat,
		RegistrationsOpen:           cfg.RegistrationsOpen,
		ContactCacheSize:            cfg.ContactCacheSize,
		MediaBackend:                cfg.MediaBackend,
		S3RootUser:                  cfg.S3RootUser,
		S3RootPassword:              cfg.S3RootPassword,
		S3Bucket:                    cfg.S3Bucket,
		S3Region:                    cfg.S3Region,
		S3BaseEndpoint:              cfg.S3BaseEndpoint,
	}
}

func (c *JsonConfig) apply(cfg *Config) {
	cfg.EndpointAddrHTTP = c.EndpointAddrHTTP
	cfg.EndpointAddrGRPC = c.EndpointAddrGRPC
	cfg.BaseURL = c.BaseURL
	cfg.DatabaseDSN = c.DatabaseDSN
	cfg.SecretKey = c.SecretKey
	cfg.LogLevel = c.LogLevel
	cfg.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	cfg.FetchTimeout = c.FetchTimeout.Duration
	cfg.DeliveryTimeout = c.DeliveryTimeout.Duration
	cfg.DeliveryConcurrency = c.DeliveryConcurrency
	cfg.QueueFirstBatchBudget = c.QueueFirstBatchBudget.Duration
	cfg.QueueBatchBudget = c.QueueBatchBudget.Duration
	cfg.InsecureCompat = c.InsecureCompat
	cfg.RegistrationsOpen = c.RegistrationsOpen
	cfg.ContactCacheSize = c.ContactCacheSize
	cfg.MediaBackend = c.MediaBackend
	cfg.S3RootUser = c.S3RootUser
	cfg.S3RootPassword = c.S3RootPassword
	cfg.S3Bucket = c.S3Bucket
	cfg.S3Region = c.S3Region
	cfg.S3BaseEndpoint = c.S3BaseEndpoint
}
