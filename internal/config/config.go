package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rm01-bsp/bootseq"
)

// Config is the root configuration for the bootseq command.
type Config struct {
	Boot      bootseq.Config  `mapstructure:"boot"`
	Server    ServerConfig    `mapstructure:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Devices   DevicesConfig   `mapstructure:"devices"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// TelemetryConfig controls logging and OTLP export. An empty endpoint disables export.
type TelemetryConfig struct {
	OTLPEndpoint   string        `mapstructure:"otlp_endpoint"`
	OTLPInsecure   bool          `mapstructure:"otlp_insecure"`
	ServiceName    string        `mapstructure:"service_name"`
	LogLevel       string        `mapstructure:"log_level"`
	SampleRatio    float64       `mapstructure:"sample_ratio"`
	ExportInterval time.Duration `mapstructure:"export_interval"`
}

// NATSConfig controls publication of boot reports. An empty URL disables it.
type NATSConfig struct {
	URL     string        `mapstructure:"url"`
	Subject string        `mapstructure:"subject"`
	Timeout time.Duration `mapstructure:"timeout"`
	Breaker BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of the report publisher.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failed publishes that opens the breaker.
	MaxFailures uint32 `mapstructure:"max_failures"`
	// OpenTimeout is how long the breaker stays open before a trial publish.
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// DeviceConfig describes one simulated subsystem.
type DeviceConfig struct {
	// Duration is how long initialization takes.
	Duration time.Duration `mapstructure:"duration"`
	// Fail makes initialization return an error.
	Fail bool `mapstructure:"fail"`
	// Hang makes initialization never complete.
	Hang bool `mapstructure:"hang"`
}

// DevicesConfig lists the subsystems of the RM01 board.
type DevicesConfig struct {
	LEDIndicator DeviceConfig `mapstructure:"led_indicator"`
	LEDAnimation DeviceConfig `mapstructure:"led_animation"`
	W5500        DeviceConfig `mapstructure:"w5500"`
	Power        DeviceConfig `mapstructure:"power"`
	WS2812       DeviceConfig `mapstructure:"ws2812"`
	Webserver    DeviceConfig `mapstructure:"webserver"`
	Netmon       DeviceConfig `mapstructure:"netmon"`
	NetAnimation DeviceConfig `mapstructure:"net_animation"`
	Diagnostics  DeviceConfig `mapstructure:"diagnostics"`
}

// Load reads config from the optional YAML file at path, then overlays
// environment variables with the BOOTSEQ_ prefix (e.g. BOOTSEQ_BOOT_HARDWARE_TIMEOUT).
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("BOOTSEQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Boot.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	boot := bootseq.DefaultConfig()
	v.SetDefault("boot.critical_timeout", boot.CriticalTimeout)
	v.SetDefault("boot.hardware_timeout", boot.HardwareTimeout)
	v.SetDefault("boot.service_timeout", boot.ServiceTimeout)
	v.SetDefault("boot.poll_interval", boot.PollInterval)
	v.SetDefault("boot.deferred_delay", boot.DeferredDelay)
	v.SetDefault("boot.baseline", boot.Baseline)
	v.SetDefault("boot.targets.excellent", boot.Targets.Excellent)
	v.SetDefault("boot.targets.warning", boot.Targets.Warning)
	v.SetDefault("boot.capacity", boot.Capacity)
	v.SetDefault("boot.default_stack", boot.DefaultStack)
	v.SetDefault("boot.strict_signals", boot.StrictSignals)
	v.SetDefault("boot.sequential", boot.Sequential)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.service_name", "rm01-bootseq")
	v.SetDefault("telemetry.log_level", "info")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.export_interval", 10*time.Second)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "rm01.boot.report")
	v.SetDefault("nats.timeout", 2*time.Second)
	v.SetDefault("nats.breaker.max_failures", 3)
	v.SetDefault("nats.breaker.open_timeout", 30*time.Second)

	// Durations measured on the RM01 board.
	devices := map[string]time.Duration{
		"led_indicator": 50 * time.Millisecond,
		"led_animation": 100 * time.Millisecond,
		"w5500":         300 * time.Millisecond,
		"power":         400 * time.Millisecond,
		"ws2812":        250 * time.Millisecond,
		"webserver":     600 * time.Millisecond,
		"netmon":        300 * time.Millisecond,
		"net_animation": 50 * time.Millisecond,
		"diagnostics":   200 * time.Millisecond,
	}
	for name, d := range devices {
		v.SetDefault("devices."+name+".duration", d)
		v.SetDefault("devices."+name+".fail", false)
		v.SetDefault("devices."+name+".hang", false)
	}
}
