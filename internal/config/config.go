// Package config loads engine and simulator settings from defaults, a YAML
// file, IONIC_* environment variables and command line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ehrlich-b/go-ionic/internal/constants"
	"github.com/ehrlich-b/go-ionic/internal/logging"
)

// Config is the resolved configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	LIF       LIFConfig       `yaml:"lif"`
	Rings     RingConfig      `yaml:"rings"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	Retry     RetryConfig     `yaml:"retry"`
	Poll      PollConfig      `yaml:"poll"`
	Buffers   BufferConfig    `yaml:"buffers"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Sim       SimConfig       `yaml:"sim"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type LIFConfig struct {
	Index       uint16 `yaml:"index"`
	MTU         uint32 `yaml:"mtu"`
	VLANID      uint16 `yaml:"vlan_id"`
	VLANEnabled bool   `yaml:"vlan_enabled"`
}

// RingConfig holds descriptor counts per queue class.
type RingConfig struct {
	AdminQ  int `yaml:"adminq"`
	NotifyQ int `yaml:"notifyq"`
	TxQ     int `yaml:"txq"`
	RxQ     int `yaml:"rxq"`
}

type TimeoutConfig struct {
	DevCmdSeconds  int `yaml:"devcmd_seconds"`
	AdminSeconds   int `yaml:"admin_seconds"`
	PollIntervalMS int `yaml:"poll_interval_ms"`
}

type RetryConfig struct {
	Count   int `yaml:"count"`
	DelayMS int `yaml:"delay_ms"`
}

type PollConfig struct {
	RateHz int `yaml:"rate_hz"`
}

type BufferConfig struct {
	Count int `yaml:"count"`
	Size  int `yaml:"size"`
}

type TelemetryConfig struct {
	// OTLPEndpoint enables the OTLP metric exporter when set.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

type SimConfig struct {
	Loopback   bool `yaml:"loopback"`
	TxCoalesce int  `yaml:"tx_coalesce"`
}

// PollInterval returns the device command and admin queue poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Timeouts.PollIntervalMS) * time.Millisecond
}

// RetryDelay returns the pause before re-posting a busy device command.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Retry.DelayMS) * time.Millisecond
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (logging.LogLevel, error) {
	return logging.ParseLevel(c.Log.Level)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("lif.index", constants.DefaultLIFIndex)
	v.SetDefault("lif.mtu", constants.DefaultMTU)
	v.SetDefault("lif.vlan_id", 0)
	v.SetDefault("lif.vlan_enabled", false)
	v.SetDefault("rings.adminq", constants.DefaultAdminQDepth)
	v.SetDefault("rings.notifyq", constants.DefaultNotifyQDepth)
	v.SetDefault("rings.txq", constants.DefaultTxQDepth)
	v.SetDefault("rings.rxq", constants.DefaultRxQDepth)
	v.SetDefault("timeouts.devcmd_seconds", constants.DevCmdTimeoutSeconds)
	v.SetDefault("timeouts.admin_seconds", constants.AdminTimeoutIterations)
	v.SetDefault("timeouts.poll_interval_ms", constants.DevCmdPollInterval.Milliseconds())
	v.SetDefault("retry.count", constants.DevCmdRetryCount)
	v.SetDefault("retry.delay_ms", constants.DevCmdRetryDelay.Milliseconds())
	v.SetDefault("poll.rate_hz", constants.DefaultPollRate)
	v.SetDefault("buffers.count", constants.DefaultBufferCount)
	v.SetDefault("buffers.size", constants.DefaultBufferSize)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("sim.loopback", true)
	v.SetDefault("sim.tx_coalesce", 1)
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"log-level":     "log.level",
	"log-format":    "log.format",
	"mtu":           "lif.mtu",
	"vlan":          "lif.vlan_id",
	"txq-depth":     "rings.txq",
	"rxq-depth":     "rings.rxq",
	"poll-rate":     "poll.rate_hz",
	"otlp-endpoint": "telemetry.otlp_endpoint",
	"loopback":      "sim.loopback",
	"tx-coalesce":   "sim.tx_coalesce",
}

// SetupFlags registers the flags Load understands.
func SetupFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to configuration file")
	fs.String("write-config", "", "Write the default configuration to this path and exit")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("log-format", "text", "Log format (text, json)")
	fs.Uint32("mtu", constants.DefaultMTU, "LIF MTU")
	fs.Uint16("vlan", 0, "VLAN id to filter and tag; 0 disables VLAN offload")
	fs.Int("txq-depth", constants.DefaultTxQDepth, "TX ring descriptors")
	fs.Int("rxq-depth", constants.DefaultRxQDepth, "RX ring descriptors")
	fs.Int("poll-rate", constants.DefaultPollRate, "Poll loop iterations per second")
	fs.String("otlp-endpoint", "", "OTLP metrics collector (host:port for gRPC, or grpc://, grpcs://, http://, https:// URL)")
	fs.Bool("loopback", true, "Simulated device loops transmitted frames back to RX")
	fs.Int("tx-coalesce", 1, "Descriptors per simulated TX completion")
}

// Load resolves the configuration. path selects a config file; when empty the
// "config" flag is consulted, then ionic.yaml in ., $HOME/.ionic and
// /etc/ionic. A missing file is not an error unless it was named explicitly.
// fs may be nil.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("IONIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for flag, key := range flagKeys {
			if f := fs.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", flag, err)
				}
			}
		}
		if path == "" {
			if f := fs.Lookup("config"); f != nil {
				path = f.Value.String()
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ionic")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.ionic")
		v.AddConfigPath("/etc/ionic")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		LIF: LIFConfig{
			Index:       v.GetUint16("lif.index"),
			MTU:         v.GetUint32("lif.mtu"),
			VLANID:      v.GetUint16("lif.vlan_id"),
			VLANEnabled: v.GetBool("lif.vlan_enabled"),
		},
		Rings: RingConfig{
			AdminQ:  v.GetInt("rings.adminq"),
			NotifyQ: v.GetInt("rings.notifyq"),
			TxQ:     v.GetInt("rings.txq"),
			RxQ:     v.GetInt("rings.rxq"),
		},
		Timeouts: TimeoutConfig{
			DevCmdSeconds:  v.GetInt("timeouts.devcmd_seconds"),
			AdminSeconds:   v.GetInt("timeouts.admin_seconds"),
			PollIntervalMS: v.GetInt("timeouts.poll_interval_ms"),
		},
		Retry: RetryConfig{
			Count:   v.GetInt("retry.count"),
			DelayMS: v.GetInt("retry.delay_ms"),
		},
		Poll:      PollConfig{RateHz: v.GetInt("poll.rate_hz")},
		Buffers:   BufferConfig{Count: v.GetInt("buffers.count"), Size: v.GetInt("buffers.size")},
		Telemetry: TelemetryConfig{OTLPEndpoint: v.GetString("telemetry.otlp_endpoint")},
		Sim: SimConfig{
			Loopback:   v.GetBool("sim.loopback"),
			TxCoalesce: v.GetInt("sim.tx_coalesce"),
		},
	}
	if cfg.LIF.VLANID != 0 {
		cfg.LIF.VLANEnabled = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration Load produces with no file, environment or flags.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		LIF: LIFConfig{Index: constants.DefaultLIFIndex, MTU: constants.DefaultMTU},
		Rings: RingConfig{
			AdminQ:  constants.DefaultAdminQDepth,
			NotifyQ: constants.DefaultNotifyQDepth,
			TxQ:     constants.DefaultTxQDepth,
			RxQ:     constants.DefaultRxQDepth,
		},
		Timeouts: TimeoutConfig{
			DevCmdSeconds:  constants.DevCmdTimeoutSeconds,
			AdminSeconds:   constants.AdminTimeoutIterations,
			PollIntervalMS: int(constants.DevCmdPollInterval.Milliseconds()),
		},
		Retry: RetryConfig{
			Count:   constants.DevCmdRetryCount,
			DelayMS: int(constants.DevCmdRetryDelay.Milliseconds()),
		},
		Poll:    PollConfig{RateHz: constants.DefaultPollRate},
		Buffers: BufferConfig{Count: constants.DefaultBufferCount, Size: constants.DefaultBufferSize},
		Sim:     SimConfig{Loopback: true, TxCoalesce: 1},
	}
}

func validDepth(n int) bool {
	return n >= constants.MinRingDepth && n <= constants.MaxRingDepth && n&(n-1) == 0
}

// Validate checks ranges that would otherwise fail deep inside device bring-up.
func (c *Config) Validate() error {
	var errList []error
	for name, n := range map[string]int{
		"rings.adminq":  c.Rings.AdminQ,
		"rings.notifyq": c.Rings.NotifyQ,
		"rings.txq":     c.Rings.TxQ,
		"rings.rxq":     c.Rings.RxQ,
	} {
		if !validDepth(n) {
			errList = append(errList, fmt.Errorf("%s: %d is not a power of two in [%d, %d]",
				name, n, constants.MinRingDepth, constants.MaxRingDepth))
		}
	}
	if _, err := c.LogLevel(); err != nil {
		errList = append(errList, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errList = append(errList, fmt.Errorf("log.format: %q is not text or json", c.Log.Format))
	}
	if c.LIF.MTU < constants.MinMTU || c.LIF.MTU > constants.MaxMTU {
		errList = append(errList, fmt.Errorf("lif.mtu: %d out of range", c.LIF.MTU))
	}
	if c.LIF.VLANID >= 4096 {
		errList = append(errList, fmt.Errorf("lif.vlan_id: %d out of range", c.LIF.VLANID))
	}
	if c.Timeouts.DevCmdSeconds <= 0 || c.Timeouts.AdminSeconds <= 0 || c.Timeouts.PollIntervalMS <= 0 {
		errList = append(errList, errors.New("timeouts must be positive"))
	}
	if c.Poll.RateHz <= 0 {
		errList = append(errList, fmt.Errorf("poll.rate_hz: %d must be positive", c.Poll.RateHz))
	}
	if c.Buffers.Count < c.Rings.RxQ {
		errList = append(errList, fmt.Errorf("buffers.count: %d cannot fill a %d-entry rx ring", c.Buffers.Count, c.Rings.RxQ))
	}
	if need := constants.EthHeaderLen + int(c.LIF.MTU) + constants.VLANTagLen; c.Buffers.Size < need {
		errList = append(errList, fmt.Errorf("buffers.size: %d is smaller than a %d-byte frame", c.Buffers.Size, need))
	}
	return errors.Join(errList...)
}

// WriteDefault writes the default configuration as YAML to path, creating the
// directory if needed.
func WriteDefault(path string) error {
	out, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	content := append([]byte("# go-ionic configuration\n"), out...)

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("error creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}
