package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Game    GameConfig    `mapstructure:"game"`
	Archive ArchiveConfig `mapstructure:"archive"`
}

// ServerConfig covers the listeners. PublicURL is the base used for join
// links and QR codes.
type ServerConfig struct {
	HTTPAddress    string        `mapstructure:"http_address"`
	RPCAddress     string        `mapstructure:"rpc_address"`
	GRPCAddress    string        `mapstructure:"grpc_address"`
	PublicURL      string        `mapstructure:"public_url"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ActRate        float64       `mapstructure:"act_rate"`
	ActBurst       int           `mapstructure:"act_burst"`
	Heartbeat      time.Duration `mapstructure:"heartbeat"`
}

type StoreConfig struct {
	Backend       string         `mapstructure:"backend"`
	TTL           time.Duration  `mapstructure:"ttl"`
	SweepInterval time.Duration  `mapstructure:"sweep_interval"`
	Redis         RedisConfig    `mapstructure:"redis"`
	Postgres      PostgresConfig `mapstructure:"postgres"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

type GameConfig struct {
	MaxPlayers      int           `mapstructure:"max_players"`
	SettleWindow    time.Duration `mapstructure:"settle_window"`
	BuzzerMode      bool          `mapstructure:"buzzer_mode"`
	TimerResolution time.Duration `mapstructure:"timer_resolution"`
}

type ArchiveConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", ":9090")
	v.SetDefault("server.grpc_address", ":9091")
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.act_rate", 20.0)
	v.SetDefault("server.act_burst", 10)
	v.SetDefault("server.heartbeat", 30*time.Second)

	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.ttl", time.Hour)
	v.SetDefault("store.sweep_interval", time.Minute)
	v.SetDefault("store.redis.url", "redis://localhost:6379/0")
	v.SetDefault("store.postgres.host", "localhost")
	v.SetDefault("store.postgres.port", 5432)

	v.SetDefault("game.max_players", 10)
	v.SetDefault("game.settle_window", 3*time.Second)
	v.SetDefault("game.buzzer_mode", false)
	v.SetDefault("game.timer_resolution", 50*time.Millisecond)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.postgres.host", "localhost")
	v.SetDefault("archive.postgres.port", 5432)
}

// LoadConfig reads path/config.yaml if present, then lets environment
// variables (STORE_BACKEND, GAME_BUZZER_MODE, ...) override it. A .env file in
// the working directory is loaded first.
func LoadConfig(path string) (config *Config, err error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err = config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend)
	}
	if c.Game.MaxPlayers <= 0 {
		return fmt.Errorf("game.max_players must be positive, got %d", c.Game.MaxPlayers)
	}
	if c.Store.TTL <= 0 {
		return fmt.Errorf("store.ttl must be positive, got %s", c.Store.TTL)
	}
	return nil
}
