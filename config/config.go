package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Room      RoomConfig      `mapstructure:"room"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	HTTPAddress string `mapstructure:"http_address"`
	RPCAddress  string `mapstructure:"rpc_address"`
	GRPCAddress string `mapstructure:"grpc_address"`
	Mode        string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RoomConfig struct {
	MinCharacters  int           `mapstructure:"min_characters"`
	MaxPlayerSeats int           `mapstructure:"max_player_seats"`
	OpenMembership bool          `mapstructure:"open_membership"`
	Members        []string      `mapstructure:"members"`
	OpeningWorkers int           `mapstructure:"opening_workers"`
	OpeningTimeout time.Duration `mapstructure:"opening_timeout"`
}

type WebSocketConfig struct {
	SendBuffer    int           `mapstructure:"send_buffer"`
	ReadLimit     int64         `mapstructure:"read_limit"`
	PingPeriod    time.Duration `mapstructure:"ping_period"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// EnvPrefix prefixes every environment override, e.g.
// SEATKEEPER_DATABASE_DRIVER=gorm.
const EnvPrefix = "SEATKEEPER"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", ":8081")
	v.SetDefault("server.grpc_address", ":8082")
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.dbname", "seatkeeper")
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("room.min_characters", 1)
	v.SetDefault("room.max_player_seats", 8)
	v.SetDefault("room.open_membership", true)
	v.SetDefault("room.members", []string{})
	v.SetDefault("room.opening_workers", 4)
	v.SetDefault("room.opening_timeout", 30*time.Second)

	v.SetDefault("websocket.send_buffer", 64)
	v.SetDefault("websocket.read_limit", 64*1024)
	v.SetDefault("websocket.ping_period", 30*time.Second)
	v.SetDefault("websocket.idle_timeout", 90*time.Second)
	v.SetDefault("websocket.sweep_interval", 15*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// LoadConfig reads config.yaml from path. A .env file in the working
// directory is loaded first; a missing config file falls back to defaults
// and environment overrides.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "gorm", "postgres":
	default:
		return fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver)
	}
	if c.Server.HTTPAddress == "" {
		return errors.New("server.http_address is required")
	}
	if c.Room.MaxPlayerSeats < 1 {
		return errors.New("room.max_player_seats must be at least 1")
	}
	if c.Room.MinCharacters < 0 || c.Room.MinCharacters > c.Room.MaxPlayerSeats {
		return fmt.Errorf("room.min_characters must be between 0 and %d", c.Room.MaxPlayerSeats)
	}
	if c.Room.OpeningWorkers < 1 {
		return errors.New("room.opening_workers must be at least 1")
	}
	if c.WebSocket.SendBuffer < 1 {
		return errors.New("websocket.send_buffer must be at least 1")
	}
	if c.WebSocket.IdleTimeout > 0 && c.WebSocket.PingPeriod >= c.WebSocket.IdleTimeout {
		return errors.New("websocket.ping_period must be shorter than websocket.idle_timeout")
	}
	return nil
}
