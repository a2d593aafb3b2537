package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env holds process-level settings that live outside the arena document.
type Env struct {
	ConfigPath  string      `env:"ARENA_CONFIG" envDefault:"arena.yaml"`
	StatusAddr  string      `env:"ARENA_STATUS_ADDR"`
	DatabaseURL string      `env:"DATABASE_URL"`
	AutoMigrate bool        `env:"AUTO_MIGRATE"`
	LogFormat   string      `env:"ARENA_LOG_FORMAT" envDefault:"text"`
	LogLevel    string      `env:"ARENA_LOG_LEVEL" envDefault:"info"`
	ObjectStore ObjectStore `envPrefix:"ARENA_S3_"`
}

// ObjectStore configures the optional end-of-run result snapshot. An empty
// endpoint disables it.
type ObjectStore struct {
	Endpoint  string `env:"ENDPOINT"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Bucket    string `env:"BUCKET" envDefault:"arena-results"`
	Region    string `env:"REGION"`
	UseSSL    bool   `env:"USE_SSL"`
}

func (o ObjectStore) Enabled() bool { return o.Endpoint != "" }

func LoadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}
