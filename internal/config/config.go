package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Session struct {
		DecayFloor      float64 `yaml:"decay_floor"`
		MaxParticipants int     `yaml:"max_participants"`
		ShowLeaderboard bool    `yaml:"show_leaderboard"`
		Retention       string  `yaml:"retention"`
		LobbyTTL        string  `yaml:"lobby_ttl"`
		SweepInterval   string  `yaml:"sweep_interval"`
	} `yaml:"session"`
	Finalize struct {
		Attempts       int    `yaml:"attempts"`
		InitialBackoff string `yaml:"initial_backoff"`
		MaxBackoff     string `yaml:"max_backoff"`
	} `yaml:"finalize"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		Issuer    string `yaml:"issuer"`
	} `yaml:"auth"`
	Standings struct {
		Timezone string `yaml:"timezone"`
	} `yaml:"standings"`
}

// Defaults returns a config that runs fully in memory.
func Defaults() Config {
	cfg := Config{}
	cfg.Server.Port = "8080"
	cfg.Redis.TTL = "6h"
	cfg.Quiz.TTL = "10m"
	cfg.Session.DecayFloor = 0.5
	cfg.Session.MaxParticipants = 50
	cfg.Session.Retention = "10m"
	cfg.Session.LobbyTTL = "30m"
	cfg.Session.SweepInterval = "1m"
	cfg.Finalize.Attempts = 5
	cfg.Finalize.InitialBackoff = "200ms"
	cfg.Finalize.MaxBackoff = "5s"
	cfg.Auth.Issuer = "quiz-room-service"
	cfg.Standings.Timezone = "UTC"
	return cfg
}

// Load reads YAML config from path on top of Defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the service cannot run with.
func (c Config) Validate() error {
	if c.Session.DecayFloor < 0 || c.Session.DecayFloor > 1 {
		return fmt.Errorf("session.decay_floor must be within [0,1], got %v", c.Session.DecayFloor)
	}
	if c.Session.MaxParticipants <= 0 {
		return fmt.Errorf("session.max_participants must be positive, got %d", c.Session.MaxParticipants)
	}
	if c.Finalize.Attempts <= 0 {
		return fmt.Errorf("finalize.attempts must be positive, got %d", c.Finalize.Attempts)
	}
	sweep := TTLDuration(c.Session.SweepInterval, time.Minute)
	if reservation := TTLDuration(c.Redis.TTL, 6*time.Hour); sweep >= reservation {
		return fmt.Errorf("session.sweep_interval %s must be shorter than redis.ttl %s", sweep, reservation)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the time zone used for daily streaks.
func (c Config) Location() (*time.Location, error) {
	if c.Standings.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Standings.Timezone)
	if err != nil {
		return nil, fmt.Errorf("standings.timezone: %w", err)
	}
	return loc, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
