package config

import (
	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/snowflake"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	BrokerLocal = "local"
	BrokerRedis = "redis"
	BrokerNats  = "nats"
)

// Load reads the JSON config file, then the optional .env file, and lets
// CHAT_* environment variables override what the file says.
func Load(path string) (*models.ConfigFile, error) {
	cfg, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readConfigFile(path string) (*models.ConfigFile, error) {
	cfg := &models.ConfigFile{}

	configFile, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer configFile.Close()

	bytes, err := io.ReadAll(configFile)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(bytes, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

func applyEnv(cfg *models.ConfigFile) error {
	strings := map[string]*string{
		"CHAT_ADDRESS":        &cfg.Address,
		"CHAT_PORT":           &cfg.Port,
		"CHAT_JWT_SECRET":     &cfg.JwtSecret,
		"CHAT_DB_USER":        &cfg.DbUser,
		"CHAT_DB_PASSWORD":    &cfg.DbPassword,
		"CHAT_DB_ADDRESS":     &cfg.DbAddress,
		"CHAT_DB_PORT":        &cfg.DbPort,
		"CHAT_DB_DATABASE":    &cfg.DbDatabase,
		"CHAT_SQLITE_PATH":    &cfg.SqlitePath,
		"CHAT_BROKER":         &cfg.Broker,
		"CHAT_REDIS_ADDRESS":  &cfg.RedisAddress,
		"CHAT_REDIS_PASSWORD": &cfg.RedisPassword,
		"CHAT_NATS_URL":       &cfg.NatsURL,
		"CHAT_LOG_LEVEL":      &cfg.LogLevel,
	}
	for name, field := range strings {
		if value, ok := os.LookupEnv(name); ok {
			*field = value
		}
	}

	if value, ok := os.LookupEnv("CHAT_SELF_CONTAINED"); ok {
		selfContained, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("CHAT_SELF_CONTAINED: %w", err)
		}
		cfg.SelfContained = selfContained
	}

	if value, ok := os.LookupEnv("CHAT_SNOWFLAKE_WORKER_ID"); ok {
		workerID, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("CHAT_SNOWFLAKE_WORKER_ID: %w", err)
		}
		cfg.SnowflakeWorkerID = workerID
	}

	return nil
}

func applyDefaults(cfg *models.ConfigFile) {
	if cfg.Address == "" {
		cfg.Address = "0.0.0.0"
	}
	if cfg.Port == "" {
		cfg.Port = "3000"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.SqlitePath == "" {
		cfg.SqlitePath = "./database.db"
	}
	if cfg.Broker == "" {
		cfg.Broker = BrokerLocal
	}
	if cfg.TypingTTLSeconds <= 0 {
		cfg.TypingTTLSeconds = 10
	}
	if cfg.TypingSweepMillis <= 0 {
		cfg.TypingSweepMillis = 1000
	}
	if cfg.PresenceGraceSeconds <= 0 {
		cfg.PresenceGraceSeconds = 5
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = 256
	}
	if cfg.MessageRateLimit == 0 {
		cfg.MessageRateLimit = 5
	}
	if cfg.MessageBurst <= 0 {
		cfg.MessageBurst = 10
	}
	if cfg.TypingRateLimit == 0 {
		cfg.TypingRateLimit = 1
	}
	if cfg.TypingBurst <= 0 {
		cfg.TypingBurst = 3
	}
}

func Validate(cfg *models.ConfigFile) error {
	if cfg.JwtSecret == "" {
		return fmt.Errorf("JwtSecret must be set in config.json or CHAT_JWT_SECRET")
	}

	if cfg.SnowflakeWorkerID < 0 || cfg.SnowflakeWorkerID > snowflake.MaxWorkerID {
		return fmt.Errorf("SnowflakeWorkerID must be between 0 and %d", snowflake.MaxWorkerID)
	}

	if cfg.TypingSweepMillis > cfg.TypingTTLSeconds*1000 {
		return fmt.Errorf("TypingSweepMillis can't be longer than the typing TTL")
	}

	switch cfg.Broker {
	case BrokerLocal:
	case BrokerRedis:
		if cfg.RedisAddress == "" {
			return fmt.Errorf("RedisAddress is required when Broker is redis")
		}
	case BrokerNats:
		if cfg.NatsURL == "" {
			return fmt.Errorf("NatsURL is required when Broker is nats")
		}
	default:
		return fmt.Errorf("unknown Broker [%s], expected local, redis or nats", cfg.Broker)
	}

	if !cfg.SelfContained && cfg.DbAddress == "" {
		return fmt.Errorf("DbAddress is required unless SelfContained is set")
	}

	return nil
}
