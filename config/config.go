package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

// Defaults applied by LoadConfig when a value is not set.
const (
	DefaultPort              = 9090
	DefaultDatabasePath      = "./database/connect.db"
	DefaultUserDir           = "."
	DefaultNonceLifetimeHrs  = 24
	DefaultAPITimeoutSeconds = 15
)

// DbConfig represents the configuration settings for the database.
type DbConfig struct {
	Path string `json:"path"`
}

// SiteConfig represents the public addresses of the site.
type SiteConfig struct {
	SiteURL  string `json:"site_url"`
	HomeURL  string `json:"home_url"`
	AdminURL string `json:"admin_url"`
}

// ConnectionConfig represents the settings of the remote connection service.
type ConnectionConfig struct {
	APIBase        string `json:"api_base"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Config represents the configuration settings of the application.
type Config struct {
	Pepper             string           `json:"pepper"`
	Port               int              `json:"port"`
	UserDir            string           `json:"user_dir"`
	NonceSecret        string           `json:"nonce_secret"`
	NonceLifetimeHours int              `json:"nonce_lifetime_hours"`
	Database           DbConfig         `json:"database"`
	Site               SiteConfig       `json:"site"`
	Connection         ConnectionConfig `json:"connection"`
}

// NonceLifetime returns the configured nonce lifetime.
func (c Config) NonceLifetime() time.Duration {
	return time.Duration(c.NonceLifetimeHours) * time.Hour
}

// APITimeout returns the configured timeout of remote API calls.
func (c Config) APITimeout() time.Duration {
	return time.Duration(c.Connection.TimeoutSeconds) * time.Second
}

// Overrides are settings given on the command line. Non-zero values replace
// the ones read from the file before defaults are derived.
type Overrides struct {
	Port int
}

// AdminPath is the path the admin pages are served under.
const AdminPath = "/admin/"

// LoadConfig loads the configuration from path. The file is JSON and may
// contain comments and trailing commas.
func LoadConfig(path string, o Overrides) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("error opening %s: %w", path, err)
	}
	defer f.Close()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		return Config{}, fmt.Errorf("error reading %s: %w", path, err)
	}
	return Parse(data, o)
}

// Parse parses a configuration document, applies o and the defaults and
// validates the result.
func Parse(data []byte, o Overrides) (Config, error) {
	var c Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &c); err != nil {
		return Config{}, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if o.Port != 0 {
		c.Port = o.Port
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.UserDir == "" {
		c.UserDir = DefaultUserDir
	}
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}
	if c.NonceLifetimeHours == 0 {
		c.NonceLifetimeHours = DefaultNonceLifetimeHrs
	}
	if c.Connection.TimeoutSeconds == 0 {
		c.Connection.TimeoutSeconds = DefaultAPITimeoutSeconds
	}
	if c.Site.HomeURL == "" {
		c.Site.HomeURL = fmt.Sprintf("http://localhost:%d/", c.Port)
	}
	if c.Site.SiteURL == "" {
		c.Site.SiteURL = c.Site.HomeURL
	}
	if c.Site.AdminURL == "" {
		c.Site.AdminURL = strings.TrimRight(c.Site.HomeURL, "/") + AdminPath
		if u, err := url.Parse(c.Site.HomeURL); err == nil && u.Host != "" {
			c.Site.AdminURL = u.Scheme + "://" + u.Host + AdminPath
		}
	}
}

// Validate reports the first missing or invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Pepper == "":
		return fmt.Errorf("config: pepper is required")
	case c.NonceSecret == "":
		return fmt.Errorf("config: nonce_secret is required")
	case c.Connection.APIBase == "":
		return fmt.Errorf("config: connection.api_base is required")
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("config: invalid port %d", c.Port)
	case c.NonceLifetimeHours < 0:
		return fmt.Errorf("config: invalid nonce_lifetime_hours %d", c.NonceLifetimeHours)
	}
	u, err := url.Parse(c.Site.AdminURL)
	if err != nil {
		return fmt.Errorf("config: invalid site.admin_url: %w", err)
	}
	if u.Path != AdminPath {
		return fmt.Errorf("config: site.admin_url path must be %s, got %q", AdminPath, u.Path)
	}
	return nil
}
