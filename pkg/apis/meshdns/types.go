// Package meshdns holds the controller's top-level runtime
// configuration: command-line flags and the values derived from them.
// It mirrors the root config.go convention of this project's teacher —
// a plain struct with a ParseFlags method backed by spf13/pflag — scaled
// up from that file's three fields to this controller's full flag set.
package meshdns

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
)

const (
	defaultHealthPort    = "9090"
	defaultListenAddr    = ":8080"
	defaultSyncInterval  = time.Minute
	defaultInventoryRPS  = 10
	defaultConfigStorage = "file"
)

// Config is the controller's process-wide configuration.
type Config struct {
	HealthPort string
	ListenAddr string
	LogFormat  string
	Debug      bool

	SyncInterval time.Duration
	MinSyncGap   time.Duration

	ConfigStorage string // "file" | "memory"
	ConfigPath    string

	InventoryBaseURL string
	InventoryAPIKey  string
	InventoryTailnet string
	InventoryRPS     int

	DNSBackendAPIToken string

	WebhookURL    string
	WebhookSecret string

	OwnerID string
}

// NewConfig returns a zero-value Config; ParseFlags populates it.
func NewConfig() *Config {
	return &Config{}
}

// ParseFlags adds and parses the controller's command-line flags.
func (cfg *Config) ParseFlags(args []string) error {
	flags := pflag.NewFlagSet("meshdns-controller", pflag.ExitOnError)

	flags.StringVar(&cfg.HealthPort, "health-port", defaultHealthPort, "health/metrics port to listen on")
	flags.StringVar(&cfg.ListenAddr, "listen-addr", defaultListenAddr, "address the HTTP trigger endpoints listen on")
	flags.StringVar(&cfg.LogFormat, "log-format", "text", "log format output (text|json)")
	flags.BoolVar(&cfg.Debug, "debug", false, "debug mode")

	flags.DurationVar(&cfg.SyncInterval, "sync-interval", defaultSyncInterval, "interval between scheduled sync passes")
	flags.DurationVar(&cfg.MinSyncGap, "min-sync-gap", 30*time.Second, "minimum time between two sync passes triggered by webhooks")

	flags.StringVar(&cfg.ConfigStorage, "config-storage", defaultConfigStorage, "config store backend (file|memory)")
	flags.StringVar(&cfg.ConfigPath, "config-path", "/etc/meshdns-controller/config.json", "path to the config store's JSON document, when config-storage=file")

	flags.StringVar(&cfg.InventoryBaseURL, "inventory-base-url", "https://api.tailscale.com", "base URL of the mesh/VPN inventory API")
	flags.StringVar(&cfg.InventoryAPIKey, "inventory-api-key", "", "inventory API key")
	flags.StringVar(&cfg.InventoryTailnet, "inventory-tailnet", "", "tailnet name to list machines from")
	flags.IntVar(&cfg.InventoryRPS, "inventory-rps", defaultInventoryRPS, "rate limit, in requests/sec, applied to the inventory client")

	flags.StringVar(&cfg.DNSBackendAPIToken, "dns-backend-api-token", "", "Cloudflare API token")

	flags.StringVar(&cfg.WebhookURL, "webhook-url", "", "public URL this controller's webhook endpoint is reachable at")
	flags.StringVar(&cfg.WebhookSecret, "webhook-secret", "", "HMAC secret used to validate inbound inventory webhooks")

	flags.StringVar(&cfg.OwnerID, "owner-id", "", "identifier embedded in every DNS record this controller creates, to scope ownership")

	return flags.Parse(args)
}

// Validate performs checks pflag itself cannot express.
func (cfg *Config) Validate() error {
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("unsupported log format: %s", cfg.LogFormat)
	}
	if cfg.ConfigStorage != "file" && cfg.ConfigStorage != "memory" {
		return fmt.Errorf("unsupported config storage: %s", cfg.ConfigStorage)
	}
	if cfg.OwnerID == "" {
		return fmt.Errorf("owner-id must be set")
	}
	if cfg.InventoryTailnet == "" {
		return fmt.Errorf("inventory-tailnet must be set")
	}
	return nil
}

// Args returns os.Args, split out so callers don't import os just to
// call ParseFlags(os.Args[1:]).
func Args() []string {
	if len(os.Args) <= 1 {
		return nil
	}
	return os.Args[1:]
}
