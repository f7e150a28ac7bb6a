// Package config loads voicegate's application configuration. Grounded on
// the teacher's api/integration-api/config/config.go: viper with
// AutomaticEnv + a SetDefault table, go-playground/validator for struct
// validation, and mapstructure tags with a "__" delimiter for nested keys.
package config

import (
	"errors"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// RedisConfig configures the optional distributed SSRC ownership registry
// (SPEC_FULL.md §B.5). Left unvalidated as "required" since the registry is
// optional — Host empty means "don't build one".
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AppConfig is voicegate's full application configuration (SPEC_FULL.md
// §A.1).
type AppConfig struct {
	ServiceName string `mapstructure:"service_name" validate:"required"`
	Version     string `mapstructure:"version" validate:"required"`
	LogLevel    string `mapstructure:"log_level" validate:"required"`

	ListenHost string `mapstructure:"listen_host" validate:"required"`
	ListenPort int    `mapstructure:"listen_port" validate:"required"`

	// ReorderCapacity/ReorderModulus parameterize every Channel's reorder
	// window. See SPEC_FULL.md §E.1 (OQ1): defaults match spec.md §3
	// (32, 2^31-1); an embedder ingesting raw 16-bit RTP sequence numbers
	// without upstream normalization should set ReorderModulus to 65536
	// explicitly rather than rely on the default silently handling wrap.
	ReorderCapacity int   `mapstructure:"reorder_capacity" validate:"required"`
	ReorderModulus  int64 `mapstructure:"reorder_modulus" validate:"required"`

	SilenceThreshold int `mapstructure:"silence_threshold" validate:"required"`

	// VoiceSecretKey is the base64-encoded 32-byte NaCl secretbox key used
	// to decrypt inbound voice packets. Left unvalidated: an operator
	// running against a single, already-provisioned peer supplies it, but
	// the process should still start (and log loudly) without one so the
	// rest of the stack stays inspectable.
	VoiceSecretKey string `mapstructure:"voice_secret_key"`
	// VoiceCryptoMode is one of "normal", "suffix", "lite" (SPEC_FULL.md
	// §B.2).
	VoiceCryptoMode string `mapstructure:"voice_crypto_mode" validate:"required"`

	Redis RedisConfig `mapstructure:"redis"`
}

// Load builds a *viper.Viper wired the way the teacher's InitConfig does:
// defaults, then an optional .env file (path from ENV_PATH), then
// environment variables, all merged with AutomaticEnv taking precedence.
func Load() (*viper.Viper, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("__"))

	v.AddConfigPath(".")
	v.SetConfigName(".env")
	if path := os.Getenv("ENV_PATH"); path != "" {
		v.SetConfigFile(path)
	}
	v.SetConfigType("env")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return v, err
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "voicegate")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("LISTEN_HOST", "0.0.0.0")
	v.SetDefault("LISTEN_PORT", 5004)

	v.SetDefault("REORDER_CAPACITY", 32)
	v.SetDefault("REORDER_MODULUS", (int64(1)<<31)-1)
	v.SetDefault("SILENCE_THRESHOLD", 5)

	v.SetDefault("VOICE_SECRET_KEY", "")
	v.SetDefault("VOICE_CRYPTO_MODE", "normal")

	v.SetDefault("REDIS__HOST", "")
	v.SetDefault("REDIS__PORT", 6379)
	v.SetDefault("REDIS__DB", 0)
}

// Parse unmarshals v into an AppConfig and validates it with
// go-playground/validator, mirroring the teacher's GetApplicationConfig.
func Parse(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
