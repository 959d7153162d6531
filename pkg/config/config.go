package config

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Named backend environments. Each resolves to a base URL; "lan" needs
// a host from config or env.
const (
	EnvLocal      = "local"
	EnvEmulator   = "emulator"
	EnvLAN        = "lan"
	EnvProduction = "production"
)

const (
	localBaseURL = "http://127.0.0.1:5000"
	// Android emulators reach the host machine through this alias.
	emulatorBaseURL = "http://10.0.2.2:5000"
	productionURL   = "https://api.astrolink.app"

	defaultBackendPort = 5000
)

type Config struct {
	Backend struct {
		// Env selects one of the named environments; BaseURL overrides it.
		Env     string `yaml:"env"`
		BaseURL string `yaml:"base_url"`
		LANHost string `yaml:"lan_host"`
	} `yaml:"backend"`
	Agent struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
	} `yaml:"agent"`
	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`
	Auth struct {
		// Token is the bearer session token; usually loaded from the
		// local store rather than config, but settable for tooling.
		Token string `yaml:"token"`
		AppID string `yaml:"app_id"`
	} `yaml:"auth"`
	Chat struct {
		SessionTTLSeconds     int `yaml:"session_ttl_seconds"`
		AttemptTimeoutSeconds int `yaml:"attempt_timeout_seconds"`
	} `yaml:"chat"`
	Realtime struct {
		MaxReconnectAttempts  int `yaml:"max_reconnect_attempts"`
		ConnectIntervalMillis int `yaml:"connect_interval_millis"`
	} `yaml:"realtime"`
	Retention struct {
		Enabled    bool   `yaml:"enabled"`
		Cron       string `yaml:"cron"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"retention"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Addr returns host:port for the agent's local HTTP surface.
func (c *Config) Addr() string {
	addr := c.Agent.Address
	if addr == "" {
		addr = "127.0.0.1"
	}
	p := c.Agent.Port
	if p == 0 {
		p = 7430
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// APIBaseURL resolves the effective REST base URL (environment or
// explicit override) normalized to exactly one /api suffix.
func (c *Config) APIBaseURL() (string, error) {
	raw := strings.TrimSpace(c.Backend.BaseURL)
	if raw == "" {
		switch strings.ToLower(strings.TrimSpace(c.Backend.Env)) {
		case EnvLocal, "":
			raw = localBaseURL
		case EnvEmulator:
			raw = emulatorBaseURL
		case EnvLAN:
			host := strings.TrimSpace(c.Backend.LANHost)
			if host == "" {
				return "", fmt.Errorf("backend env %q requires lan_host", EnvLAN)
			}
			if !strings.Contains(host, ":") {
				host = fmt.Sprintf("%s:%d", host, defaultBackendPort)
			}
			raw = "http://" + host
		case EnvProduction:
			raw = productionURL
		default:
			return "", fmt.Errorf("unknown backend env: %s", c.Backend.Env)
		}
	}
	return NormalizeAPIBase(raw)
}

// NormalizeAPIBase ensures the URL carries exactly one trailing /api
// segment, regardless of how many the input had.
func NormalizeAPIBase(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base url must be absolute: %q", raw)
	}
	p := strings.TrimRight(u.Path, "/")
	for strings.HasSuffix(p, "/api") {
		p = strings.TrimSuffix(p, "/api")
	}
	u.Path = p + "/api"
	return u.String(), nil
}

// RealtimeURL derives the websocket endpoint from an /api base URL:
// the /api suffix is dropped and the scheme switched to ws(s).
func RealtimeURL(apiBase string) (string, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return "", fmt.Errorf("invalid api base %q: %w", apiBase, err)
	}
	p := strings.TrimRight(u.Path, "/")
	p = strings.TrimSuffix(p, "/api")
	u.Path = p
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseCommandFlags defines and parses command-line flags and returns their
// values along with a map indicating which flags were explicitly set.
func ParseCommandFlags() (addr string, dbPath string, cfgPath string, setFlags map[string]bool) {
	addrPtr := flag.String("addr", "127.0.0.1:7430", "agent HTTP listen address")
	dbPtr := flag.String("db", "./.astrolink", "local cache DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrPtr, *dbPtr, *cfgPtr, setFlags
}

// LoadEnvOverrides applies environment overrides onto the provided cfg
// and reports whether any env vars were used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false
	if v := os.Getenv("ASTROLINK_BACKEND_ENV"); v != "" {
		envUsed = true
		cfg.Backend.Env = v
	}
	if v := os.Getenv("ASTROLINK_BASE_URL"); v != "" {
		envUsed = true
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("ASTROLINK_LAN_HOST"); v != "" {
		envUsed = true
		cfg.Backend.LANHost = v
	}
	if v := os.Getenv("ASTROLINK_ADDR"); v != "" {
		envUsed = true
		if host, port, ok := strings.Cut(v, ":"); ok {
			cfg.Agent.Address = host
			if pi, err := strconv.Atoi(port); err == nil {
				cfg.Agent.Port = pi
			}
		} else {
			cfg.Agent.Address = v
		}
	}
	if v := os.Getenv("ASTROLINK_DB_PATH"); v != "" {
		envUsed = true
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("ASTROLINK_TOKEN"); v != "" {
		envUsed = true
		cfg.Auth.Token = v
	}
	if v := os.Getenv("ASTROLINK_APP_ID"); v != "" {
		envUsed = true
		cfg.Auth.AppID = v
	}
	if v := os.Getenv("ASTROLINK_SESSION_TTL"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Chat.SessionTTLSeconds = n
		}
	}
	if v := os.Getenv("ASTROLINK_MAX_RECONNECTS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Realtime.MaxReconnectAttempts = n
		}
	}
	if v := os.Getenv("ASTROLINK_RETENTION_CRON"); v != "" {
		envUsed = true
		cfg.Retention.Cron = v
		cfg.Retention.Enabled = true
	}
	if v := os.Getenv("ASTROLINK_LOG_LEVEL"); v != "" {
		envUsed = true
		cfg.Logging.Level = v
	}
	return envUsed
}

// LoadEffective loads config from the given path (file) and applies
// environment overrides. A missing file is not an error; env and
// defaults still apply.
func LoadEffective(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err != nil {
		cfg = &Config{}
	}
	envUsed := LoadEnvOverrides(cfg)
	return cfg, envUsed, nil
}

// ResolveConfigPath decides the config file path using the flag-provided value
// and the environment variable `ASTROLINK_CONFIG` when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("ASTROLINK_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
