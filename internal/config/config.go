package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SchoolConfig identifies the Untis tenant the client talks to.
type SchoolConfig struct {
	// ServerURL is the JSON-RPC endpoint of the school's Untis server,
	// e.g. "https://example.webuntis.com/WebUntis/jsonrpc.do".
	ServerURL string `yaml:"server_url" json:"server_url"`
	// LoginName is the school identifier passed as the "school" query
	// parameter on every request.
	LoginName string `yaml:"login_name" json:"login_name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the local API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the local JSON API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used as the canonical display zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// School selects the Untis server and tenant.
	School SchoolConfig `yaml:"school" json:"school"`

	// ElementID overrides the timetable element queried. 0 means "use
	// the authenticated identity's own id".
	ElementID int `yaml:"element_id" json:"element_id"`

	// SearchURL is the school directory lookup endpoint.
	SearchURL string `yaml:"search_url" json:"search_url"`

	// RefreshCron is a cron-style schedule string (e.g. "*/30 * * * *")
	// used for periodic refresh when auto refresh is enabled. When empty
	// it is derived from the persisted refresh-interval setting.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays is the number of days each fetch/organize cycle covers,
	// starting from the Sunday of the reference week.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// ReminderLeadMinutes is how long before a lesson starts its reminder
	// fires.
	ReminderLeadMinutes int `yaml:"reminder_lead_minutes" json:"reminder_lead_minutes"`

	// StorePath is the SQLite file backing sessions, snapshots and
	// preferences.
	StorePath string `yaml:"store_path" json:"store_path"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:              "127.0.0.1:8080",
		Timezone:            "Europe/Berlin",
		SearchURL:           "https://mobile.webuntis.com/WebUntis/schoolquery2.do",
		RefreshCron:         "*/30 * * * *",
		HorizonDays:         14,
		ReminderLeadMinutes: 15,
		StorePath:           "./var/untisched.db",
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "Europe/Berlin"
	}
	if c.SearchURL == "" {
		c.SearchURL = "https://mobile.webuntis.com/WebUntis/schoolquery2.do"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/30 * * * *"
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 14
	}
	if c.ReminderLeadMinutes <= 0 {
		c.ReminderLeadMinutes = 15
	}
	if c.StorePath == "" {
		c.StorePath = "./var/untisched.db"
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist: create the parent directory if needed,
//     write a default config with 0600 perms, and return the defaults.
//   - If the file exists: read YAML, unmarshal, normalize defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the configuration to path atomically (temp file + rename)
// with 0600 permissions, creating the parent directory as needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".untisched-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save so handlers can write back a
// mutated config directly.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
