// Package config loads the engine configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every runtime setting. Defaults suit local development; a
// deployment overrides them through the environment.
type Config struct {
	// EngineHost is the public base URL where the engine is accessible,
	// used for any links requiring the engine host address.
	EngineHost string `env:"ENGINE_HOST" envDefault:"http://127.0.0.1:3593"`
	// ServerListenAddr is the network address the HTTP server listens on.
	ServerListenAddr string `env:"SERVER_LISTEN_ADDR" envDefault:":3593"`

	CachePath string `env:"CACHE_PATH" envDefault:".cache"`

	// UpstreamTimeout bounds every request to an addon or debrid API.
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"10s"`

	// TorrentioManifestURL is auto-registered before the first stream
	// search. Empty disables auto-registration.
	TorrentioManifestURL string `env:"TORRENTIO_MANIFEST_URL" envDefault:"https://torrentio.strem.fun/manifest.json"`

	RealDebridAPIKey string `env:"REAL_DEBRID_API_KEY"`
	AllDebridAPIKey  string `env:"ALL_DEBRID_API_KEY"`
	PremiumizeAPIKey string `env:"PREMIUMIZE_API_KEY"`

	// ExternalPlayer and FallbackPlayer select the playback handoff
	// targets. Valid values are infuse, outplayer and vidhub.
	ExternalPlayer string `env:"EXTERNAL_PLAYER" envDefault:"infuse"`
	FallbackPlayer string `env:"FALLBACK_PLAYER"`
	// FallbackDelay is how long a handoff waits for confirmation before
	// the fallback fires.
	FallbackDelay time.Duration `env:"FALLBACK_DELAY" envDefault:"2s"`

	ServiceEnvironment   string `env:"SERVICE_ENVIRONMENT" envDefault:"lcl"`
	OtelExporterEndpoint string `env:"OTEL_EXPORTER_ENDPOINT" envDefault:"localhost:4317"`
	LokiHost             string `env:"LOKI_HOST" envDefault:"http://localhost:3100"`
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to env.Parse: %w", err)
	}
	return cfg, nil
}
