package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the coordinator needs to run. Values come from an
// optional YAML file, overridden by environment variables so container
// deployments can tune a single image.
type Config struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Mongo struct {
		URI          string        `yaml:"uri"`
		Database     string        `yaml:"database"`
		OpTimeout    time.Duration `yaml:"op_timeout"`
		UsersColl    string        `yaml:"users_collection"`
		TeamsColl    string        `yaml:"teams_collection"`
		ChallColl    string        `yaml:"challenges_collection"`
	} `yaml:"mongo"`

	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`

	NATS struct {
		URL           string `yaml:"url"`
		StreamName    string `yaml:"stream_name"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	Scoring struct {
		// Mode is "rubric" (deterministic evaluation) or "demo" (random
		// placeholder scores, matching the legacy behavior).
		Mode string `yaml:"mode"`
	} `yaml:"scoring"`
}

// Default returns a config suitable for local development.
func Default() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = ":8080"
	cfg.Mongo.URI = "mongodb://localhost:27017"
	cfg.Mongo.Database = "african_intelligence"
	cfg.Mongo.OpTimeout = 5 * time.Second
	cfg.Mongo.UsersColl = "users"
	cfg.Mongo.TeamsColl = "teams"
	cfg.Mongo.ChallColl = "challenges"
	cfg.Redis.URL = "redis://localhost:6379/0"
	cfg.NATS.URL = "nats://localhost:4222"
	cfg.NATS.StreamName = "CHALLENGE_EVENTS"
	cfg.NATS.SubjectPrefix = "challenge.events"
	cfg.Scoring.Mode = "rubric"
	return cfg
}

// Load reads the YAML file at path (if it exists) and applies environment
// overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret is required (set JWT_SECRET)")
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTP.Addr = getEnv("HTTP_ADDR", c.HTTP.Addr)
	c.Mongo.URI = getEnv("MONGO_URI", c.Mongo.URI)
	c.Mongo.Database = getEnv("MONGO_DATABASE", c.Mongo.Database)
	if secs := getEnvAsInt("MONGO_OP_TIMEOUT_SEC", 0); secs > 0 {
		c.Mongo.OpTimeout = time.Duration(secs) * time.Second
	}
	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.StreamName = getEnv("NATS_STREAM", c.NATS.StreamName)
	c.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", c.NATS.SubjectPrefix)
	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Scoring.Mode = getEnv("SCORING_MODE", c.Scoring.Mode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
