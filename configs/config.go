package configs

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Viper *viper.Viper
}

var (
	config *Config
	once   sync.Once
)

// GetConfig loads configuration once per process from .env, config.yaml and
// CARECHAT_* environment variables, in increasing precedence.
func GetConfig() *Config {
	once.Do(func() {
		if err := godotenv.Load(); err != nil {
			log.Debug().Err(err).Msg(".env file not loaded")
		}
		loaded, err := Load(".", "./configs")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load configuration")
		}
		config = loaded
	})
	return config
}

// Load reads config.yaml from the first matching path. A missing file is not an
// error: defaults and environment variables still apply.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range paths {
		v.AddConfigPath(path)
	}
	v.SetEnvPrefix("CARECHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	return &Config{Viper: v}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "carechat")
	v.SetDefault("database.ssl", "disable")
	v.SetDefault("database.timezone", "UTC")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.health_check_interval", "30s")

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("feed.driver", "redis")
	v.SetDefault("feed.queue_size", 256)
	v.SetDefault("feed.backoff_initial", 250*time.Millisecond)
	v.SetDefault("feed.backoff_max", 10*time.Second)

	v.SetDefault("chat.family_channel_name", "Family Chat")
	v.SetDefault("chat.typing_ttl", 3*time.Second)
	v.SetDefault("chat.fetch_timeout", 10*time.Second)

	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.region", "us-east-1")
	v.SetDefault("minio.bucket", "user-profile")
	v.SetDefault("minio.url_expiry", time.Hour)

	v.SetDefault("profiles.cache_size", 1024)
	v.SetDefault("profiles.cache_ttl", 5*time.Minute)

	v.SetDefault("rate_limit.rps", 50)
	v.SetDefault("rate_limit.burst", 100)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Chat is the typed view of the chat.* and feed.* keys.
type Chat struct {
	FamilyChannelName string
	TypingTTL         time.Duration
	FetchTimeout      time.Duration
	QueueSize         int
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
}

func (c *Config) Chat() Chat {
	return Chat{
		FamilyChannelName: c.Viper.GetString("chat.family_channel_name"),
		TypingTTL:         c.Viper.GetDuration("chat.typing_ttl"),
		FetchTimeout:      c.Viper.GetDuration("chat.fetch_timeout"),
		QueueSize:         c.Viper.GetInt("feed.queue_size"),
		BackoffInitial:    c.Viper.GetDuration("feed.backoff_initial"),
		BackoffMax:        c.Viper.GetDuration("feed.backoff_max"),
	}
}
