package config

import (
	"encoding/base64"
	"time"

	"github.com/pkg/errors"
)

type SessionConfig struct {
	DataFolder     string        `yaml:"data_folder" env:"DATA_FOLDER"`
	VerifyInterval time.Duration `yaml:"verify_interval" env:"VERIFY_INTERVAL"`
	// SealKey is a base64 encoded 32 byte key. When set, persisted values are
	// sealed at rest.
	SealKey    string `yaml:"seal_key" env:"SEAL_KEY"`
	Platform   string `yaml:"platform" env:"PLATFORM"`
	AppVersion string `yaml:"app_version" env:"APP_VERSION"`
}

func defaultSession() SessionConfig {
	return SessionConfig{
		DataFolder:     "./data",
		VerifyInterval: time.Hour,
		Platform:       "cli",
		AppVersion:     "dev",
	}
}

// DecodeSealKey returns the decoded seal key, or nil when none is configured.
func (s SessionConfig) DecodeSealKey() (*[32]byte, error) {
	if s.SealKey == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(s.SealKey)
	if err != nil {
		return nil, errors.Wrap(err, "[SessionConfig.DecodeSealKey] session.seal_key")
	}
	if len(raw) != 32 {
		return nil, errors.Errorf("[SessionConfig.DecodeSealKey] session.seal_key: want 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}
