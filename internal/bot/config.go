package bot

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Bot struct {
		Token    string  `toml:"token"`
		AdminIDs []int64 `toml:"admin_ids"`
		// ServiceConfig points at the server config whose store and
		// remote servers the bot operates on.
		ServiceConfig string `toml:"service_config"`
		Timezone      string `toml:"timezone"`
	} `toml:"bot"`
	Auth struct {
		RedisURL string `toml:"redis_url"`
	} `toml:"auth"`
}

func ReadConfig(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is not specified in %s", path)
	}
	if cfg.Bot.ServiceConfig == "" {
		cfg.Bot.ServiceConfig = "config.toml"
	}
	if cfg.Bot.Timezone == "" {
		cfg.Bot.Timezone = "UTC"
	}

	return &cfg, nil
}
