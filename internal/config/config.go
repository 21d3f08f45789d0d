package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/ghodss/yaml"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const redacted = "********"

type XapiConfig struct {
	URL      string        `yaml:"url" json:"url" mapstructure:"url"`
	Username string        `yaml:"username" json:"username" mapstructure:"username"`
	Password string        `yaml:"password" json:"password" mapstructure:"password"`
	Insecure bool          `yaml:"insecure" json:"insecure" mapstructure:"insecure"`
	SRUUID   string        `yaml:"sr_uuid" json:"sr_uuid" mapstructure:"sr_uuid"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout"`
}

type VDIConfig struct {
	NameLabel       string `yaml:"name_label" json:"name_label" mapstructure:"name_label"`
	NameDescription string `yaml:"name_description" json:"name_description" mapstructure:"name_description"`
}

type TelemetryConfig struct {
	OTLPEndpoint   string `yaml:"otlp_endpoint" json:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure" json:"otlp_insecure" mapstructure:"otlp_insecure"`
	PushgatewayURL string `yaml:"pushgateway_url" json:"pushgateway_url" mapstructure:"pushgateway_url"`
	Job            string `yaml:"job" json:"job" mapstructure:"job"`
}

type Config struct {
	Xapi      XapiConfig      `yaml:"xapi" json:"xapi" mapstructure:"xapi"`
	VDI       VDIConfig       `yaml:"vdi" json:"vdi" mapstructure:"vdi"`
	Kernel    string          `yaml:"kernel" json:"kernel" mapstructure:"kernel"`
	Device    string          `yaml:"device" json:"device" mapstructure:"device"`
	Output    string          `yaml:"output" json:"output" mapstructure:"output"`
	LogLevel  string          `yaml:"log_level" json:"log_level" mapstructure:"log_level"`
	LogFormat string          `yaml:"log_format" json:"log_format" mapstructure:"log_format"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry" mapstructure:"telemetry"`

	// PrintConfig is only ever set from the command line.
	PrintConfig bool `yaml:"-" json:"-" mapstructure:"-"`

	settings map[string]any
}

// flag name -> config key
var flagKeys = map[string]string{
	"url":        "xapi.url",
	"username":   "xapi.username",
	"password":   "xapi.password",
	"insecure":   "xapi.insecure",
	"sr-uuid":    "xapi.sr_uuid",
	"kernel":     "kernel",
	"device":     "device",
	"output":     "output",
	"log-level":  "log_level",
	"log-format": "log_format",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("xapi.url", "")
	v.SetDefault("xapi.username", "")
	v.SetDefault("xapi.password", "")
	v.SetDefault("xapi.insecure", false)
	v.SetDefault("xapi.sr_uuid", "")
	v.SetDefault("xapi.timeout", "30s")

	v.SetDefault("vdi.name_label", "xen-bootdisk")
	v.SetDefault("vdi.name_description", "Bootable disk built by xen-bootdisk")

	v.SetDefault("kernel", "")
	v.SetDefault("device", "")
	v.SetDefault("output", "")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.pushgateway_url", "")
	v.SetDefault("telemetry.job", "xen-bootdisk")
}

// NewFlagSet returns the command line flags understood by Load.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("url", "", "XenAPI endpoint, e.g. https://xenserver.local")
	fs.String("username", "", "XenAPI user")
	fs.String("password", "", "XenAPI password")
	fs.Bool("insecure", false, "skip TLS certificate verification")
	fs.String("sr-uuid", "", "storage repository to create the disk in (default: the pool's default SR)")
	fs.String("kernel", "", "kernel to place on a new boot disk")
	fs.String("device", "", "upload this local block device or image instead of building a boot disk")
	fs.String("output", "", "also write the built boot disk to this file")
	fs.String("config", "", "configuration file (default: bootdisk.yaml in /etc/xen-bootdisk, /config or .)")
	fs.String("log-level", "info", "info or debug")
	fs.String("log-format", "json", "json or text")
	fs.Bool("print-config", false, "print the effective configuration and exit")
	return fs
}

// Load parses args and layers flags over the environment, the config file
// and the defaults, in that order.
func Load(args []string) (*Config, error) {
	fs := NewFlagSet("xen-bootdisk")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, fmt.Errorf("config: unable to bind flag %s: %w", name, err)
		}
	}

	if err := readConfigFile(v, fs); err != nil {
		return nil, err
	}

	for _, key := range v.AllKeys() {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey); err != nil {
			return nil, fmt.Errorf("config: unable to bind env: %w", err)
		}
	}

	conf := &Config{}
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	conf.PrintConfig, _ = fs.GetBool("print-config")
	conf.settings = v.AllSettings()

	return conf, nil
}

func readConfigFile(v *viper.Viper, fs *pflag.FlagSet) error {
	v.SetConfigType("yaml")

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("config: reading %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("bootdisk")
	v.AddConfigPath("/etc/xen-bootdisk/")
	v.AddConfigPath("/config/")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Validate reports every missing or conflicting setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Xapi.URL == "" {
		errs = append(errs, errors.New("xapi.url is required"))
	}
	if c.Xapi.Username == "" {
		errs = append(errs, errors.New("xapi.username is required"))
	}
	if c.Xapi.Password == "" {
		errs = append(errs, errors.New("xapi.password is required"))
	}
	switch {
	case c.Kernel == "" && c.Device == "":
		errs = append(errs, errors.New("one of kernel or device is required"))
	case c.Kernel != "" && c.Device != "":
		errs = append(errs, errors.New("kernel and device are mutually exclusive"))
	}
	if c.Device != "" && c.Output != "" {
		errs = append(errs, errors.New("output only applies when building a boot disk"))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// WriteYAML renders the effective settings with the password masked.
func (c *Config) WriteYAML(w io.Writer) error {
	settings := c.settings
	if settings == nil {
		settings = map[string]any{}
	}
	if x, ok := settings["xapi"].(map[string]any); ok {
		if p, _ := x["password"].(string); p != "" {
			x["password"] = redacted
		}
	}

	b, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	_, err = w.Write(b)
	return err
}

// Logger builds the process logger writing to w.
func (c *Config) Logger(w io.Writer) logr.Logger {
	if c.LogFormat == "text" {
		if c.LogLevel == "debug" {
			stdr.SetVerbosity(1)
		}
		return stdr.New(log.New(w, "", log.LstdFlags))
	}
	return defaultLogger(w, c.LogLevel)
}

// defaultLogger uses the slog logr implementation.
func defaultLogger(w io.Writer, level string) logr.Logger {
	// source file and function can be long. This makes the logs less readable.
	// truncate source file and function to last 3 parts for improved readability.
	customAttr := func(_ []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			ss, ok := a.Value.Any().(*slog.Source)
			if !ok || ss == nil {
				return a
			}
			f := strings.Split(ss.Function, "/")
			if len(f) > 3 {
				ss.Function = filepath.Join(f[len(f)-3:]...)
			}
			p := strings.Split(ss.File, "/")
			if len(p) > 3 {
				ss.File = filepath.Join(p[len(p)-3:]...)
			}

			return a
		}

		return a
	}
	opts := &slog.HandlerOptions{AddSource: true, ReplaceAttr: customAttr}
	switch level {
	case "debug":
		opts.Level = slog.LevelDebug
	default:
		opts.Level = slog.LevelInfo
	}
	log := slog.New(slog.NewJSONHandler(w, opts))

	return logr.FromSlogHandler(log.Handler())
}
