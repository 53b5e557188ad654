package config

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Configuration struct {
	Logs     LogsSettings     `mapstructure:"logs"`
	App      Application      `mapstructure:"app"`
	Database Database         `mapstructure:"database"`
	Queue    QueueConfig      `mapstructure:"queue"`
	Redis    Redis            `mapstructure:"redis"`
	Security SecuritySettings `mapstructure:"security"`
	Server   ServerSettings   `mapstructure:"server"`
	Relay    RelaySettings    `mapstructure:"relay"`
	Cache    CacheConfig      `mapstructure:"cache"`
	External ExternalServices `mapstructure:"external"`
}

type LogsSettings struct {
	Level            string `mapstructure:"level"`
	Path             string `mapstructure:"log-path"`
	EnableJSONOutput bool   `mapstructure:"enable-json-output"`
}

type Application struct {
	Name    string `mapstructure:"name"`
	Timeout int    `mapstructure:"timeout"`
	Version string `mapstructure:"version"`
}

type Database struct {
	Url               string `mapstructure:"url"`
	DbName            string `mapstructure:"dbname"`
	HistoryCollection string `mapstructure:"history-collection"`
	Timeout           int    `mapstructure:"timeout"`
}

type QueueConfig struct {
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

type RabbitMQConfig struct {
	Url          string `mapstructure:"url"`
	Exchange     string `mapstructure:"exchange"`
	ExchangeType string `mapstructure:"exchange-type"`
	RoutingKey   string `mapstructure:"routing-key"`
	Durable      bool   `mapstructure:"durable"`
	AutoDelete   bool   `mapstructure:"auto-delete"`
	Internal     bool   `mapstructure:"internal"`
	NoWait       bool   `mapstructure:"no-wait"`
}

type Redis struct {
	Url      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	Db       int    `mapstructure:"db"`
}

type SecuritySettings struct {
	JwtKey string `mapstructure:"jwt-key"`
}

type ServerSettings struct {
	Port         string `mapstructure:"port"`
	Mode         string `mapstructure:"mode"`
	ReadTimeout  int    `mapstructure:"read-timeout"`
	WriteTimeout int    `mapstructure:"write-timeout"`
	IdleTimeout  int    `mapstructure:"idle-timeout"`
}

// RelaySettings drives the session-coordination relay itself: which
// deployment the pub/sub channels belong to, where the presence snapshot
// lives and how long the logout warning countdown runs.
type RelaySettings struct {
	HostTag              string `mapstructure:"host-tag"`
	SnapshotPath         string `mapstructure:"snapshot-path"`
	CountdownSeconds     int    `mapstructure:"countdown-seconds"`
	PingIntervalSec      int    `mapstructure:"ping-interval-seconds"`
	SendBufferSize       int    `mapstructure:"send-buffer-size"`
	ReconnectDelaySec    int    `mapstructure:"reconnect-delay-seconds"`
	MaxReconnectDelaySec int    `mapstructure:"max-reconnect-delay-seconds"`
}

type CacheConfig struct {
	TokenExpirationMinutes int `mapstructure:"token-expiration-minutes"`
}

type ExternalServices struct {
	SessionService SessionServiceConfig `mapstructure:"session-service"`
}

type SessionServiceConfig struct {
	URL     string `mapstructure:"url"`
	Timeout int    `mapstructure:"timeout"`
}

const (
	DefaultPort    = "3030"
	DefaultHostTag = "controlcenter_ftx"
)

// Load reads the yaml configuration, applies environment overrides and
// finally the positional startup arguments: [port] [hostTag].
func Load(args []string) *Configuration {
	cfg := read()
	logrus.Info("Configuration loaded")

	// Override with environment variables
	mongoUri := os.Getenv("MONGODB_URL")
	if mongoUri != "" {
		cfg.Database.Url = mongoUri
	}

	dbName := os.Getenv("DB_NAME")
	if dbName != "" {
		cfg.Database.DbName = dbName
	}

	redisUrl := os.Getenv("REDIS_URL")
	if redisUrl != "" {
		cfg.Redis.Url = redisUrl
	}

	redisDB := os.Getenv("REDIS_DB")
	if redisDB != "" {
		if db, err := strconv.Atoi(redisDB); err == nil {
			cfg.Redis.Db = db
		}
	}

	rabbitmqUrl := os.Getenv("RABBITMQ_URL")
	if rabbitmqUrl != "" {
		cfg.Queue.RabbitMQ.Url = rabbitmqUrl
	}

	jwtKey := os.Getenv("JWT_KEY")
	if jwtKey != "" {
		cfg.Security.JwtKey = jwtKey
	}

	ApplyStartupArgs(cfg, args)

	if cfg.Server.Port == "" {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Relay.HostTag == "" {
		cfg.Relay.HostTag = DefaultHostTag
	}
	if cfg.Relay.CountdownSeconds <= 0 {
		cfg.Relay.CountdownSeconds = 60
	}

	return cfg
}

// ApplyStartupArgs mirrors the legacy invocation contract: a numeric
// first argument replaces the port, a non-empty second argument replaces
// the pub/sub host tag. A non-numeric port argument is ignored.
func ApplyStartupArgs(cfg *Configuration, args []string) {
	if len(args) > 0 && args[0] != "" {
		if _, err := strconv.Atoi(args[0]); err == nil {
			cfg.Server.Port = args[0]
		}
	}

	if len(args) > 1 && args[1] != "" {
		cfg.Relay.HostTag = args[1]
	}
}

func read() *Configuration {
	viper.SetConfigFile("src/internal/config/cfg.yml")
	viper.AutomaticEnv()
	viper.SetConfigType("yml")

	var config Configuration

	err := viper.ReadInConfig()
	if err != nil {
		logrus.Panicf("Error reading config file, %s", err)
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		logrus.Panicf("Error unmarshalling config file, %s", err)
	}

	return &config
}
