package stickerswap

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/swapdesk/stickerswap/stickerswap/database"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

type Config struct {
	Log     LogConfig         `toml:"log"`
	DB      database.DBConfig `toml:"db"`
	Redis   RedisConfig       `toml:"redis"`
	HTTP    HTTPConfig        `toml:"http"`
	Trade   TradeConfig       `toml:"trade"`
	Discord DiscordConfig     `toml:"discord"`
	Spaces  SpacesConfig      `toml:"spaces"`
	Mongo   MongoConfig       `toml:"mongo"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// RedisConfig enables the cross-instance event hub when Addr is set;
// otherwise a single-process in-memory hub is used.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type HTTPConfig struct {
	Addr string `toml:"addr"`
}

type TradeConfig struct {
	MatchingTTLSeconds int `toml:"matching_ttl_seconds"`
	MailboxTTLHours    int `toml:"mailbox_ttl_hours"`
	MinMailboxOffers   int `toml:"min_mailbox_offers"`
	SweepSeconds       int `toml:"sweep_seconds"`
}

func (c TradeConfig) MatchingTTL() time.Duration {
	return time.Duration(c.MatchingTTLSeconds) * time.Second
}

func (c TradeConfig) MailboxTTL() time.Duration {
	return time.Duration(c.MailboxTTLHours) * time.Hour
}

func (c TradeConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepSeconds) * time.Second
}

// DiscordConfig enables DM notifications when Token is set.
type DiscordConfig struct {
	Token string `toml:"token"`
}

// SpacesConfig points at the S3-compatible bucket holding sticker artwork.
type SpacesConfig struct {
	Key         string `toml:"key"`
	Secret      string `toml:"secret"`
	Region      string `toml:"region"`
	Bucket      string `toml:"bucket"`
	StickerRoot string `toml:"stickerroot"`
}

// MongoConfig points at the legacy collection for the one-shot importer.
type MongoConfig struct {
	URI        string `toml:"uri"`
	Database   string `toml:"database"`
	Collection string `toml:"collection"`
}

func (c *Config) applyDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Trade.MatchingTTLSeconds <= 0 {
		c.Trade.MatchingTTLSeconds = 300
	}
	if c.Trade.MailboxTTLHours <= 0 {
		c.Trade.MailboxTTLHours = 7 * 24
	}
	if c.Trade.MinMailboxOffers <= 0 {
		c.Trade.MinMailboxOffers = 1
	}
	if c.Trade.SweepSeconds <= 0 {
		c.Trade.SweepSeconds = 60
	}
}
