// Package config assembles server settings from defaults, an optional HCL
// file, .env files and the process environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string
	LogLevel    string
	CORSOrigins []string

	EscalateAfter time.Duration
	GracePeriod   time.Duration
	SweepInterval time.Duration
	EvictAfter    time.Duration
	BotMoveDelay  time.Duration

	PostgresURL  string
	KafkaBrokers []string
	KafkaTopic   string
	RedisURL     string
}

func Default() *Config {
	return &Config{
		Addr:          ":8080",
		LogLevel:      "info",
		CORSOrigins:   []string{"*"},
		EscalateAfter: 10 * time.Second,
		GracePeriod:   30 * time.Second,
		SweepInterval: 30 * time.Second,
		EvictAfter:    30 * time.Second,
		BotMoveDelay:  time.Second,
		KafkaTopic:    "game-events",
	}
}

type fileConfig struct {
	Server   *serverBlock   `hcl:"server,block"`
	Lobby    *lobbyBlock    `hcl:"lobby,block"`
	Postgres *postgresBlock `hcl:"postgres,block"`
	Kafka    *kafkaBlock    `hcl:"kafka,block"`
	Redis    *redisBlock    `hcl:"redis,block"`
}

type serverBlock struct {
	Address     string   `hcl:"address,optional"`
	Port        int      `hcl:"port,optional"`
	LogLevel    string   `hcl:"log_level,optional"`
	CORSOrigins []string `hcl:"cors_origins,optional"`
}

type lobbyBlock struct {
	EscalateAfter string `hcl:"escalate_after,optional"`
	GracePeriod   string `hcl:"grace_period,optional"`
	SweepInterval string `hcl:"sweep_interval,optional"`
	EvictAfter    string `hcl:"evict_after,optional"`
	BotMoveDelay  string `hcl:"bot_move_delay,optional"`
}

type postgresBlock struct {
	URL string `hcl:"url"`
}

type kafkaBlock struct {
	Brokers []string `hcl:"brokers"`
	Topic   string   `hcl:"topic,optional"`
}

type redisBlock struct {
	URL string `hcl:"url"`
}

// Load builds a Config. A missing HCL file or .env file is not an error.
// Variables already set in the process environment win over .env values.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()
	if err := cfg.LoadFile(path); err != nil {
		return nil, err
	}
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	dotenv := map[string]string{}
	for _, f := range envFiles {
		vars, err := godotenv.Read(f)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		for k, v := range vars {
			dotenv[k] = v
		}
	}
	err := cfg.ApplyEnv(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	})
	if err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}
	var fc fileConfig
	if diags := gohcl.DecodeBody(file.Body, nil, &fc); diags.HasErrors() {
		return fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	if s := fc.Server; s != nil {
		if s.Address != "" || s.Port != 0 {
			port := s.Port
			if port == 0 {
				port = 8080
			}
			c.Addr = fmt.Sprintf("%s:%d", s.Address, port)
		}
		if s.LogLevel != "" {
			c.LogLevel = s.LogLevel
		}
		if len(s.CORSOrigins) > 0 {
			c.CORSOrigins = s.CORSOrigins
		}
	}
	if l := fc.Lobby; l != nil {
		for _, d := range []struct {
			name string
			raw  string
			dst  *time.Duration
		}{
			{"escalate_after", l.EscalateAfter, &c.EscalateAfter},
			{"grace_period", l.GracePeriod, &c.GracePeriod},
			{"sweep_interval", l.SweepInterval, &c.SweepInterval},
			{"evict_after", l.EvictAfter, &c.EvictAfter},
			{"bot_move_delay", l.BotMoveDelay, &c.BotMoveDelay},
		} {
			if d.raw == "" {
				continue
			}
			v, err := time.ParseDuration(d.raw)
			if err != nil {
				return fmt.Errorf("lobby.%s: %w", d.name, err)
			}
			*d.dst = v
		}
	}
	if fc.Postgres != nil {
		c.PostgresURL = fc.Postgres.URL
	}
	if fc.Kafka != nil {
		c.KafkaBrokers = fc.Kafka.Brokers
		if fc.Kafka.Topic != "" {
			c.KafkaTopic = fc.Kafka.Topic
		}
	}
	if fc.Redis != nil {
		c.RedisURL = fc.Redis.URL
	}
	return nil
}

// ApplyEnv overlays environment variables. Durations are whole seconds.
// PORT takes precedence over ADDR, as on most hosting platforms.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}
	if v := get("ADDR"); v != "" {
		c.Addr = v
	}
	if v := get("PORT"); v != "" {
		c.Addr = ":" + v
	}
	if v := get("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := get("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}
	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"BOT_DELAY", &c.EscalateAfter},
		{"RECONNECT_WINDOW", &c.GracePeriod},
		{"BOT_MOVE_DELAY", &c.BotMoveDelay},
	} {
		v := get(d.key)
		if v == "" {
			continue
		}
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: expected whole seconds, got %q", d.key, v)
		}
		*d.dst = time.Duration(secs) * time.Second
	}
	if v := get("POSTGRES_URL"); v != "" {
		c.PostgresURL = v
	}
	if v := get("KAFKA_BROKERS"); v != "" {
		c.KafkaBrokers = splitList(v)
	}
	if v := get("KAFKA_TOPIC"); v != "" {
		c.KafkaTopic = v
	}
	if v := get("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("listen address is empty")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	for name, d := range map[string]time.Duration{
		"escalate_after": c.EscalateAfter,
		"grace_period":   c.GracePeriod,
		"sweep_interval": c.SweepInterval,
		"evict_after":    c.EvictAfter,
		"bot_move_delay": c.BotMoveDelay,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
