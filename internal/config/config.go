package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBSource          string
	Port              string
	Env               string
	RedisAddr         string
	UsdtRate          float64
	ReconcileInterval time.Duration
	RateLimitRPS      float64
	RateLimitBurst    int
}

func Load() (*Config, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	rate, err := floatEnv("USDT_RATE", 90)
	if err != nil {
		return nil, err
	}

	interval := 2 * time.Minute
	if raw := os.Getenv("RECONCILE_INTERVAL"); raw != "" {
		interval, err = time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid RECONCILE_INTERVAL: %w", err)
		}
	}

	rps, err := floatEnv("RATE_LIMIT_RPS", 10)
	if err != nil {
		return nil, err
	}

	burst := 20
	if raw := os.Getenv("RATE_LIMIT_BURST"); raw != "" {
		burst, err = strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
		}
	}

	return &Config{
		DBSource:          dbSource,
		Port:              port,
		Env:               env,
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		UsdtRate:          rate,
		ReconcileInterval: interval,
		RateLimitRPS:      rps,
		RateLimitBurst:    burst,
	}, nil
}

func floatEnv(name string, fallback float64) (float64, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return v, nil
}
