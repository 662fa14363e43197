package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yml
var embeddedConfig []byte

type Config struct {
	Mode   string `mapstructure:"mode"`
	Server struct {
		HTTPPort    string        `mapstructure:"HTTPPort"`
		MetricsPort string        `mapstructure:"metricsPort"`
		Timeout     time.Duration `mapstructure:"HTTPTimeout"`
	} `mapstructure:"server"`
	Repositories struct {
		// Store selects the document store backend: "memory" or "postgres".
		Store    string `mapstructure:"store"`
		Postgres struct {
			Host     string `mapstructure:"host"`
			Password string `mapstructure:"password"`
			Port     string `mapstructure:"port"`
			Username string `mapstructure:"username"`
			DB       string `mapstructure:"db"`
			SSLMode  string `mapstructure:"sslmode"`
		} `mapstructure:"postgres"`
	} `mapstructure:"repositories"`
	JWT   JWTConfig   `mapstructure:"jwt"`
	OAuth OAuthConfig `mapstructure:"oauth"`
}

// JWTConfig configures access token issuance and validation.
type JWTConfig struct {
	SecretKey      string        `mapstructure:"secretKey"`
	AccessTokenTTL time.Duration `mapstructure:"accessTokenTTL"`
	Issuer         string        `mapstructure:"issuer"`
	Audience       string        `mapstructure:"audience"`
}

// OAuthConfig configures the federated identity provider.
type OAuthConfig struct {
	SessionSecret string `mapstructure:"sessionSecret"`
	Google        struct {
		Key         string `mapstructure:"key"`
		Secret      string `mapstructure:"secret"`
		CallbackURL string `mapstructure:"callbackURL"`
	} `mapstructure:"google"`
}

func InitConfig() (Config, error) {
	var config Config
	v := viper.New()

	v.AddConfigPath(".")
	v.AddConfigPath("config")
	v.AddConfigPath("/app/config")

	v.SetConfigName("config")
	v.SetConfigType("yml")

	// Secrets come from the environment, never the yml file.
	v.SetEnvPrefix("FAILFORWARD")
	v.AutomaticEnv()
	_ = v.BindEnv("jwt.secretKey", "FAILFORWARD_JWT_SECRET")
	_ = v.BindEnv("oauth.sessionSecret", "FAILFORWARD_SESSION_SECRET")
	_ = v.BindEnv("oauth.google.key", "GOOGLE_OAUTH_KEY")
	_ = v.BindEnv("oauth.google.secret", "GOOGLE_OAUTH_SECRET")
	_ = v.BindEnv("repositories.postgres.password", "POSTGRES_PASSWORD")

	err := v.ReadInConfig()
	if err != nil {
		fmt.Printf("Warning: Failed to find file-based config: %s. Falling back to embedded config.\n", err)
		if err = v.ReadConfig(bytes.NewReader(embeddedConfig)); err != nil {
			return Config{}, fmt.Errorf("failed to read embedded config: %s", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %s", err)
	}
	return config, nil
}
