package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Load reads configuration from a JSON file and sets default values.
// configDir is the directory containing the config file. A missing file is
// not an error; defaults apply.
func Load(configDir string) error {
	// Set default values
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./peerloclogs")

	viper.SetDefault("device.id", "")
	viper.SetDefault("device.displayName", "")

	viper.SetDefault("api.serverUrl", "http://localhost:5000")
	viper.SetDefault("api.apiKey", "")
	viper.SetDefault("api.pollIntervalSec", 5)

	viper.SetDefault("sampling.minDistanceM", 5.0)
	viper.SetDefault("sampling.livenessIntervalSec", 30)
	viper.SetDefault("sampling.policyCooldownSec", 30)
	viper.SetDefault("sampling.intervalToleranceSec", 2)
	viper.SetDefault("sampling.oneShotTimeoutSec", 8)
	viper.SetDefault("sampling.lowBatteryPct", 20)
	viper.SetDefault("sampling.criticalBatteryPct", 10)
	viper.SetDefault("sampling.stationaryAfterSec", 30)
	viper.SetDefault("sampling.movingSpeedMs", 1.0)
	viper.SetDefault("sampling.fastSpeedMs", 10.0)

	viper.SetDefault("markers.minIntervalSec", 30)
	viper.SetDefault("markers.minDistanceM", 10.0)

	viper.SetDefault("peers.queueCapacity", 50)
	viper.SetDefault("peers.debounceMs", 1000)
	viper.SetDefault("peers.staleAfterSec", 300)

	viper.SetDefault("sharing.maxRetries", 3)
	viper.SetDefault("sharing.retryDelaySec", 2)
	viper.SetDefault("sharing.remoteTimeoutSec", 10)

	viper.SetDefault("journal.enabled", true)
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "peerloc")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "peerloc-metrics")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
	viper.SetDefault("otel.batchTimeoutSec", 5)

	viper.SetConfigName("peerlocd.cfg.json")
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetFloat64 returns a float config value.
func GetFloat64(key string) float64 {
	return viper.GetFloat64(key)
}

// Seconds returns a whole-second config value as a duration.
func Seconds(key string) time.Duration {
	return time.Duration(viper.GetInt(key)) * time.Second
}

// Millis returns a millisecond config value as a duration.
func Millis(key string) time.Duration {
	return time.Duration(viper.GetInt(key)) * time.Millisecond
}
