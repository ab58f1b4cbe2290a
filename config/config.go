// Package config loads quotagate settings and the per-service limits table
// from a TOML or YAML file.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	"github.com/vinayprograms/quotagate/errors"
	"github.com/vinayprograms/quotagate/logging"
	"github.com/vinayprograms/quotagate/ratelimit"
	"github.com/vinayprograms/quotagate/telemetry"
)

// Logging selects the log level and encoder.
type Logging struct {
	Level  string `toml:"level" yaml:"level" env:"QUOTAGATE_LOG_LEVEL"`                                  // "debug","info","warn","error"
	Format string `toml:"format" yaml:"format" env:"QUOTAGATE_LOG_FORMAT" validate:"oneof=console json"` // "console" or "json"
}

// Server configures the admin HTTP server.
type Server struct {
	Addr              string `toml:"addr" yaml:"addr" env:"QUOTAGATE_ADDR" validate:"required"`
	ShutdownTimeoutMS int    `toml:"shutdown_timeout_ms" yaml:"shutdown_timeout_ms" validate:"gte=0"`
	ReadTimeoutMS     int    `toml:"read_timeout_ms" yaml:"read_timeout_ms" validate:"gte=0"`
	AccessLog         bool   `toml:"access_log" yaml:"access_log" env:"QUOTAGATE_ACCESS_LOG"`
	ResetPerMinute    int    `toml:"reset_per_minute" yaml:"reset_per_minute" validate:"gte=0"` // 0 uses the server default
}

// Telemetry configures OTLP trace export.
type Telemetry struct {
	Endpoint string `toml:"endpoint" yaml:"endpoint" env:"QUOTAGATE_OTLP_ENDPOINT"` // empty disables OTLP export
	Protocol string `toml:"protocol" yaml:"protocol" env:"QUOTAGATE_OTLP_PROTOCOL" validate:"oneof=grpc http"`
	Insecure bool   `toml:"insecure" yaml:"insecure" env:"QUOTAGATE_OTLP_INSECURE"`
	Debug    bool   `toml:"debug" yaml:"debug"`
}

// Limit is the file form of ratelimit.Config, with durations in milliseconds.
type Limit struct {
	MaxRequests   int   `toml:"max_requests" yaml:"max_requests" validate:"gt=0"`
	WindowMS      int64 `toml:"window_ms" yaml:"window_ms" validate:"gt=0"`
	MaxConcurrent int   `toml:"max_concurrent" yaml:"max_concurrent" validate:"gte=0"`
	CooldownMS    int64 `toml:"cooldown_ms" yaml:"cooldown_ms" validate:"gte=0"`
	UseBackoff    bool  `toml:"use_backoff" yaml:"use_backoff"`
	BackoffMS     int64 `toml:"backoff_ms" yaml:"backoff_ms" validate:"gte=0"`
	MaxBackoffMS  int64 `toml:"max_backoff_ms" yaml:"max_backoff_ms" validate:"gte=0"`
}

// Root is the whole configuration file.
type Root struct {
	Logging   Logging          `toml:"logging" yaml:"logging"`
	Server    Server           `toml:"server" yaml:"server"`
	Telemetry Telemetry        `toml:"telemetry" yaml:"telemetry"`
	Limits    map[string]Limit `toml:"limits" yaml:"limits" validate:"dive"`
}

func ms(n int64) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// ToConfig converts a file entry to engine form.
func (l Limit) ToConfig() ratelimit.Config {
	return ratelimit.Config{
		MaxRequests:   l.MaxRequests,
		Window:        ms(l.WindowMS),
		MaxConcurrent: l.MaxConcurrent,
		Cooldown:      ms(l.CooldownMS),
		UseBackoff:    l.UseBackoff,
		Backoff:       ms(l.BackoffMS),
		MaxBackoff:    ms(l.MaxBackoffMS),
	}
}

// FromConfig converts an engine config to file form.
func FromConfig(c ratelimit.Config) Limit {
	return Limit{
		MaxRequests:   c.MaxRequests,
		WindowMS:      c.Window.Milliseconds(),
		MaxConcurrent: c.MaxConcurrent,
		CooldownMS:    c.Cooldown.Milliseconds(),
		UseBackoff:    c.UseBackoff,
		BackoffMS:     c.Backoff.Milliseconds(),
		MaxBackoffMS:  c.MaxBackoff.Milliseconds(),
	}
}

// ShutdownTimeout bounds graceful shutdown of the admin server.
func (s Server) ShutdownTimeout() time.Duration {
	if s.ShutdownTimeoutMS <= 0 {
		return 10 * time.Second
	}
	return ms(int64(s.ShutdownTimeoutMS))
}

// ReadTimeout bounds reading one admin request.
func (s Server) ReadTimeout() time.Duration {
	if s.ReadTimeoutMS <= 0 {
		return 5 * time.Second
	}
	return ms(int64(s.ReadTimeoutMS))
}

// ProviderConfig converts the telemetry section for telemetry.InitProvider.
func (t Telemetry) ProviderConfig(version string) telemetry.ProviderConfig {
	return telemetry.ProviderConfig{
		ServiceName:    "quotagate",
		ServiceVersion: version,
		Endpoint:       t.Endpoint,
		Protocol:       t.Protocol,
		Insecure:       t.Insecure,
		Debug:          t.Debug,
	}
}

// Default returns the settings used when no file is given, before
// environment overrides.
func Default() *Root {
	r := &Root{}
	r.applyDefaults()
	return r
}

func (r *Root) applyDefaults() {
	if r.Logging.Level == "" {
		r.Logging.Level = "info"
	}
	if r.Logging.Format == "" {
		r.Logging.Format = "console"
	}
	if r.Server.Addr == "" {
		r.Server.Addr = ":9090"
	}
	if r.Telemetry.Protocol == "" {
		r.Telemetry.Protocol = "grpc"
	}
}

// Load reads path, choosing the decoder by extension (.toml, .yaml, .yml),
// applies defaults and validates the result.
func Load(path string) (*Root, error) {
	var cfg Root
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "decoding "+path)
		}
	case ".yaml", ".yml":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "decoding "+path)
		}
	default:
		return nil, errors.InvalidInput(fmt.Sprintf("unsupported config extension %q (use .toml, .yaml or .yml)", ext))
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides settings from QUOTAGATE_* environment variables and
// fills remaining defaults.
func (r *Root) ApplyEnv() error {
	if err := cleanenv.ReadEnv(r); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "reading environment")
	}
	r.applyDefaults()
	return nil
}

// Validate checks process settings and every limits entry.
func (r *Root) Validate() error {
	if _, err := logging.ParseLevel(r.Logging.Level); err != nil {
		return errors.InvalidInput(err.Error())
	}
	if err := validate.Struct(r); err != nil {
		return fromValidation(err)
	}
	_, err := r.EngineConfigs()
	return err
}

var validate = newValidator()

// newValidator reports fields by their file names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("toml"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// fromValidation converts the first validator failure to INVALID_INPUT,
// naming the limits entry when the failure is inside one.
func fromValidation(err error) error {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) || len(verrs) == 0 {
		return errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "invalid config")
	}
	fe := verrs[0]
	var opts []errors.Option
	ns := fe.Namespace()
	if i := strings.Index(ns, "limits["); i >= 0 {
		rest := ns[i+len("limits["):]
		if j := strings.Index(rest, "]"); j >= 0 {
			opts = append(opts, errors.WithService(rest[:j]))
		}
	}
	msg := fmt.Sprintf("%s: failed %q check", ns, fe.Tag())
	if fe.Param() != "" {
		msg = fmt.Sprintf("%s: failed %q check (%s)", ns, fe.Tag(), fe.Param())
	}
	return errors.InvalidInput(msg, append(opts, errors.WithCause(err))...)
}

// EngineConfigs merges the file's limits over ratelimit.DefaultConfigs.
// A service named in the file replaces its default wholesale.
func (r *Root) EngineConfigs() (map[ratelimit.Service]ratelimit.Config, error) {
	out := ratelimit.DefaultConfigs()
	for name, l := range r.Limits {
		out[ratelimit.Service(name)] = l.ToConfig()
	}
	if err := ratelimit.ValidateAll(out); err != nil {
		return nil, err
	}
	return out, nil
}

// LogLevel returns the parsed logging level.
func (r *Root) LogLevel() logging.Level {
	level, _ := logging.ParseLevel(r.Logging.Level)
	return level
}
