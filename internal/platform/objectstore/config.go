package objectstore

import (
	"errors"

	"github.com/foundry-ml/foundry-go/internal/platform/env"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	Bucket    string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("OBJECT_STORE_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  env.String("OBJECT_STORE_ENDPOINT", "localhost:9000"),
		AccessKey: env.String("OBJECT_STORE_ACCESS_KEY", ""),
		SecretKey: env.String("OBJECT_STORE_SECRET_KEY", ""),
		UseSSL:    useSSL,
		Region:    env.String("OBJECT_STORE_REGION", ""),
		Bucket:    env.String("OBJECT_STORE_BUCKET", "foundry-artifacts"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("OBJECT_STORE_ENDPOINT is required")
	}
	if c.AccessKey == "" {
		return errors.New("OBJECT_STORE_ACCESS_KEY is required")
	}
	if c.SecretKey == "" {
		return errors.New("OBJECT_STORE_SECRET_KEY is required")
	}
	if c.Bucket == "" {
		return errors.New("OBJECT_STORE_BUCKET is required")
	}
	return nil
}
