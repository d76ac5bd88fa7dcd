package config

import "github.com/spf13/viper"

// setDefaults sets every key so that environment variables can override
// keys absent from the config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("log.level", "info")

	v.SetDefault("database.url", "")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.cache_ttl", "30s")

	v.SetDefault("lock.backend", LockLocal)
	v.SetDefault("lock.ttl", "10s")
	v.SetDefault("lock.wait", "5s")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "amm.trades")

	v.SetDefault("settlement.store_timeout", "2s")
	v.SetDefault("settlement.max_retries", 5)
	v.SetDefault("settlement.unwind_attempts", 8)
	v.SetDefault("settlement.unwind_backoff", "50ms")
}
