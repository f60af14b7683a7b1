package config

import "github.com/spf13/viper"

// Defaults applied before the config file and environment are read.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "")
	v.SetDefault("server.workers", 10)

	v.SetDefault("storage.dir", "")

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9090")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4317")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.sample_rate", 1.0)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.endpoint", "http://localhost:4040")
	v.SetDefault("telemetry.profiling.profile_types", []string{"cpu", "inuse_space", "goroutines"})
}
