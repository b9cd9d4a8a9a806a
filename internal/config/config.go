// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "VERSO_"

type Config struct {
	Server struct {
		Host string `json:"host" yaml:"host"`
		Port int    `json:"port" yaml:"port"`
	} `json:"server" yaml:"server"`

	RepoHome string `json:"repo_home" yaml:"repo_home"`
	SrvHome  string `json:"srv_home" yaml:"srv_home"`
	BaseURL  string `json:"base_url" yaml:"base_url"`

	Routes struct {
		Object   string `json:"object" yaml:"object"`
		Versions string `json:"versions" yaml:"versions"`
		Meta     string `json:"meta" yaml:"meta"`
	} `json:"routes" yaml:"routes"`

	// Mounts maps a path prefix to a local repository or a remote URL.
	Mounts map[string]string `json:"mounts" yaml:"mounts"`

	Cache struct {
		Path          string   `json:"path" yaml:"path"`
		BlobCacheSize int      `json:"blob_cache_size" yaml:"blob_cache_size"`
		BlobSizeLimit int64    `json:"blob_size_limit" yaml:"blob_size_limit"`
		BuildTimeout  Duration `json:"build_timeout" yaml:"build_timeout"`
	} `json:"cache" yaml:"cache"`

	Changeset struct {
		NeighborScope string `json:"neighbor_scope" yaml:"neighbor_scope"`
	} `json:"changeset" yaml:"changeset"`

	Watch bool `json:"watch" yaml:"watch"`

	Environment string `json:"environment" yaml:"environment"` // dev, prod
	LogLevel    string `json:"log_level" yaml:"log_level"`     // debug, info, warn, error
}

// Duration reads "30s"-style strings from JSON and YAML.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	return d.parse(s)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{
		RepoHome:    ".",
		Environment: "development",
		LogLevel:    "info",
		Mounts:      map[string]string{},
	}
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8000
	cfg.Routes.Object = "object"
	cfg.Routes.Versions = "versions"
	cfg.Routes.Meta = "meta"
	cfg.Cache.BlobCacheSize = 4096
	cfg.Cache.BlobSizeLimit = 512 * 1024
	cfg.Changeset.NeighborScope = "all"
	return cfg
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file. Files ending in .yaml or .yml are YAML,
// anything else JSON.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
				return nil, fmt.Errorf("decoding %s: %w", path, err)
			}
		default:
			if err := json.NewDecoder(file).Decode(cfg); err != nil {
				return nil, fmt.Errorf("decoding %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if cfg.SrvHome == "" {
		cfg.SrvHome = cfg.RepoHome
	}
	if cfg.Mounts == nil {
		cfg.Mounts = map[string]string{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"REPO_HOME":      &c.RepoHome,
		"SRV_HOME":       &c.SrvHome,
		"OBJECT_ROUTE":   &c.Routes.Object,
		"VERSIONS_ROUTE": &c.Routes.Versions,
		"META_ROUTE":     &c.Routes.Meta,
		"LOG_LEVEL":      &c.LogLevel,
		"BASE_URL":       &c.BaseURL,
	}
	for key, dst := range strs {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}

	if v, ok := lookup(envPrefix + "PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPORT: %w", envPrefix, err)
		}
		c.Server.Port = port
	}

	if v, ok := lookup(envPrefix + "MIRRORS"); ok && v != "" {
		mounts := map[string]string{}
		if err := json.Unmarshal([]byte(v), &mounts); err != nil {
			return fmt.Errorf("%sMIRRORS must be a JSON object: %w", envPrefix, err)
		}
		c.Mounts = mounts
	}
	return nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	routes := []string{c.Routes.Object, c.Routes.Versions, c.Routes.Meta}
	seen := map[string]bool{}
	for _, r := range routes {
		if r == "" || strings.Contains(r, "/") {
			return fmt.Errorf("invalid route name %q", r)
		}
		if seen[r] {
			return fmt.Errorf("duplicate route name %q", r)
		}
		seen[r] = true
	}
	switch c.Changeset.NeighborScope {
	case "", "all", "path":
	default:
		return fmt.Errorf("invalid neighbor_scope %q", c.Changeset.NeighborScope)
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
