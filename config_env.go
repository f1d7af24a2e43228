package gmpAuth

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every variable LoadConfigFromEnv reads, for
// example GMPAUTH_JWT_ACCESS_TTL or GMPAUTH_SECURITY_MAX_LOGIN_ATTEMPTS.
const EnvPrefix = "GMPAUTH_"

// LoadConfigFromEnv starts from DefaultConfig and overrides every field
// whose variable is set. JWT keys are read from the files named by
// GMPAUTH_JWT_PRIVATE_KEY_FILE and GMPAUTH_JWT_PUBLIC_KEY_FILE. The result
// is validated.
func LoadConfigFromEnv() (Config, error) {
	return loadConfigFromEnv(env.Options{Prefix: EnvPrefix})
}

func loadConfigFromEnv(opts env.Options) (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}

	if cfg.JWT.PrivateKeyFile != "" {
		key, err := os.ReadFile(cfg.JWT.PrivateKeyFile)
		if err != nil {
			return Config{}, fmt.Errorf("config: read JWT private key: %w", err)
		}
		cfg.JWT.PrivateKey = key
	}
	if cfg.JWT.PublicKeyFile != "" {
		key, err := os.ReadFile(cfg.JWT.PublicKeyFile)
		if err != nil {
			return Config{}, fmt.Errorf("config: read JWT public key: %w", err)
		}
		cfg.JWT.PublicKey = key
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
