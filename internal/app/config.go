package app

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/tasksync/internal/remote"
)

const (
	IdentityBackendSQL   = "sql"
	IdentityBackendRedis = "redis"

	LockLocal = "local"
	LockRedis = "redis"

	DefaultTokenKeyTemplate = "auth:operator:{operator}"
)

type HeaderConfig struct {
	Name  string `toml:"name"`
	Value string `toml:"value"`
}

type GSheetConfig struct {
	CredentialsPath string  `toml:"credentials_path"`
	SheetID         string  `toml:"sheet_id"`
	SheetName       string  `toml:"sheet_name"`
	Schedule        string  `toml:"schedule"`
	UsersRange      string  `toml:"users_range"`
	FirstRow        int     `toml:"first_row"`
	TimestampRange  string  `toml:"timestamp_range"`
	Tasks           []int64 `toml:"tasks"`
	Sync            bool    `toml:"sync"`
}

type Config struct {
	Server struct {
		Port       string `toml:"port"`
		EnableAuth bool   `toml:"enable_auth"`
	} `toml:"server"`

	Auth struct {
		RedisURL         string `toml:"redis_url"`
		TokenHeader      string `toml:"token_header"`
		TokenKeyTemplate string `toml:"token_key_template"`
	} `toml:"auth"`

	API struct {
		OperatorIDHeader string         `toml:"operator_id_header"`
		RequiredHeaders  []HeaderConfig `toml:"required_headers"`
	} `toml:"api"`

	Database struct {
		DSN           string `toml:"dsn"`
		MigrationsDir string `toml:"migrations_dir"`
	} `toml:"database"`

	Identity struct {
		Prefix   string `toml:"prefix"`
		Backend  string `toml:"backend"`
		RedisURL string `toml:"redis_url"`
	} `toml:"identity"`

	Remote struct {
		WorksheetPrefix string                `toml:"worksheet_prefix"`
		TimeoutSeconds  int                   `toml:"timeout_seconds"`
		Servers         []remote.ServerConfig `toml:"servers"`
	} `toml:"remote"`

	Reconcile struct {
		Schedule       string `toml:"schedule"`
		Lock           string `toml:"lock"`
		RedisURL       string `toml:"redis_url"`
		LockTTLSeconds int    `toml:"lock_ttl_seconds"`
	} `toml:"reconcile"`

	GSheet        map[string][]GSheetConfig `toml:"gsheet"`
	EmojiVariants []string                  `toml:"emoji_variants"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("error reading config file %s\n> Error: %w", path, err)
	}
	return config, nil
}

func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	if config.Server.Port == "" {
		return nil, fmt.Errorf("Server port is not specified in config, use a value like :9999")
	}

	if config.Database.MigrationsDir == "" {
		config.Database.MigrationsDir = "./migrations"
	}
	if config.API.OperatorIDHeader == "" {
		config.API.OperatorIDHeader = "X-Operator-ID"
	}
	if config.Auth.TokenHeader == "" {
		config.Auth.TokenHeader = "Authorization"
	}
	if config.Auth.TokenKeyTemplate == "" {
		config.Auth.TokenKeyTemplate = DefaultTokenKeyTemplate
	}

	switch config.Identity.Backend {
	case "":
		config.Identity.Backend = IdentityBackendSQL
	case IdentityBackendSQL, IdentityBackendRedis:
	default:
		return nil, fmt.Errorf("unknown identity backend %q", config.Identity.Backend)
	}
	if config.Identity.Backend == IdentityBackendRedis && config.Identity.RedisURL == "" {
		return nil, fmt.Errorf("identity.redis_url is required for the redis backend")
	}

	switch config.Reconcile.Lock {
	case "":
		config.Reconcile.Lock = LockLocal
	case LockLocal, LockRedis:
	default:
		return nil, fmt.Errorf("unknown reconcile lock %q", config.Reconcile.Lock)
	}
	if config.Reconcile.Lock == LockRedis && config.Reconcile.RedisURL == "" {
		return nil, fmt.Errorf("reconcile.redis_url is required for the redis lock")
	}

	seen := make(map[string]bool, len(config.Remote.Servers))
	for i, s := range config.Remote.Servers {
		if s.Name == "" || s.URL == "" {
			return nil, fmt.Errorf("remote server #%d needs a name and an url", i)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("remote server %q is configured twice", s.Name)
		}
		seen[s.Name] = true
		if s.TimeoutSeconds == 0 {
			config.Remote.Servers[i].TimeoutSeconds = config.Remote.TimeoutSeconds
		}
	}

	logger.Debug.Printf("Loaded %d remote servers, identity backend %s, lock %s",
		len(config.Remote.Servers), config.Identity.Backend, config.Reconcile.Lock)

	return &config, nil
}
