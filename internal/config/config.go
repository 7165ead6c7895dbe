package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

type ShortCircuitPolicy string

const (
	ShortCircuitSkipOwner ShortCircuitPolicy = "skip-owner"
	ShortCircuitAll       ShortCircuitPolicy = "all"
	ShortCircuitNone      ShortCircuitPolicy = "none"
)

type Config struct {
	BindAddress string `mapstructure:"bind-address" yaml:"bind-address" json:"bind_address" validate:"required,ip"`
	Port        int    `mapstructure:"port" yaml:"port" json:"port" validate:"min=1,max=65535"`
	ListenAddr  string `mapstructure:"-" yaml:"-" json:"listen_addr"`

	LogLevel string `mapstructure:"log-level" yaml:"log-level" json:"log_level" validate:"oneof=debug info warn error"`
	LogDir   string `mapstructure:"log-dir" yaml:"log-dir,omitempty" json:"log_dir,omitempty"`

	APIServer       string `mapstructure:"api-server" yaml:"api-server,omitempty" json:"api_server,omitempty" validate:"omitempty,hostname_port"`
	APIServerSecret string `mapstructure:"api-server-secret" yaml:"api-server-secret,omitempty" json:"-"`

	ShortCircuitPolicy ShortCircuitPolicy `mapstructure:"short-circuit-policy" yaml:"short-circuit-policy" json:"short_circuit_policy" validate:"oneof=skip-owner all none"`
	StrictRules        bool               `mapstructure:"strict-rules" yaml:"strict-rules" json:"strict_rules"`

	MitM MitMConfig `mapstructure:"mitm" yaml:"mitm" json:"mitm"`

	Rules     []Rule `mapstructure:"rules" yaml:"rules,omitempty" json:"rules,omitempty" validate:"dive"`
	RulesJSON string `mapstructure:"rules-json" yaml:"-" json:"-"`
}

type MitMConfig struct {
	Enabled            bool     `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Hostname           []string `mapstructure:"hostname" yaml:"hostname,omitempty" json:"hostname,omitempty"`
	DefaultAllow       bool     `mapstructure:"default-allow" yaml:"default-allow" json:"default_allow"`
	CAP12              string   `mapstructure:"ca-p12" yaml:"ca-p12,omitempty" json:"-"`
	CAPassphrase       string   `mapstructure:"ca-passphrase" yaml:"ca-passphrase,omitempty" json:"-"`
	InsecureSkipVerify bool     `mapstructure:"insecure-skip-verify" yaml:"insecure-skip-verify" json:"insecure_skip_verify"`
}

// Rule is one entry of the ordered rule list. Order is significant: it is
// both the match order and the order response rewrites are applied in.
type Rule struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled,omitempty" json:"enabled"`
	Name    string `mapstructure:"name" yaml:"name,omitempty" json:"name,omitempty"`

	Type        string `mapstructure:"type" yaml:"type" json:"type" validate:"required,oneof=DOMAIN DOMAIN-SUFFIX DOMAIN-KEYWORD DOMAIN-SET HEADER-KEYWORD HEADER-REGEX URL-REGEX PATH PATH-PREFIX METHOD SRC-IP DEST-PORT EXPR FINAL"`
	MatchHeader string `mapstructure:"match-header" yaml:"match-header,omitempty" json:"match_header,omitempty" validate:"required_if=Type HEADER-KEYWORD,required_if=Type HEADER-REGEX"`
	MatchValue  string `mapstructure:"match-value" yaml:"match-value,omitempty" json:"match_value,omitempty"`

	Action           string `mapstructure:"action" yaml:"action" json:"action" validate:"required,oneof=ADD REPLACE REPLACE-REGEX DELETE BODY-REPLACE-REGEX INJECT REJECT REDIRECT-302 REDIRECT-307 ECHO DIRECT"`
	RewriteDirection string `mapstructure:"rewrite-direction" yaml:"rewrite-direction,omitempty" json:"rewrite_direction,omitempty" validate:"omitempty,oneof=REQUEST RESPONSE DUAL"`
	RewriteHeader    string `mapstructure:"rewrite-header" yaml:"rewrite-header,omitempty" json:"rewrite_header,omitempty" validate:"required_if=Action ADD,required_if=Action REPLACE,required_if=Action REPLACE-REGEX,required_if=Action DELETE,required_if=Action ECHO"`
	RewriteRegex     string `mapstructure:"rewrite-regex" yaml:"rewrite-regex,omitempty" json:"rewrite_regex,omitempty" validate:"required_if=Action REPLACE-REGEX,required_if=Action BODY-REPLACE-REGEX,required_if=Action REDIRECT-302,required_if=Action REDIRECT-307"`
	RewriteValue     string `mapstructure:"rewrite-value" yaml:"rewrite-value,omitempty" json:"rewrite_value,omitempty" validate:"required_if=Action INJECT"`
	Status           int    `mapstructure:"status" yaml:"status,omitempty" json:"status,omitempty" validate:"omitempty,min=100,max=599"`
}

func (r *Rule) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", r.Name),
		slog.String("type", r.Type),
		slog.String("match_value", r.MatchValue),
		slog.String("action", r.Action),
		slog.String("direction", r.RewriteDirection),
	)
}

// Normalize upper-cases the enum-like fields so config files may use any case.
func (r *Rule) Normalize() {
	r.Type = strings.ToUpper(strings.TrimSpace(r.Type))
	r.Action = strings.ToUpper(strings.TrimSpace(r.Action))
	r.RewriteDirection = strings.ToUpper(strings.TrimSpace(r.RewriteDirection))
}

// SetDefaults registers the default value of every key on the global viper.
func SetDefaults() {
	viper.SetDefault("bind-address", "127.0.0.1")
	viper.SetDefault("port", 8080)
	viper.SetDefault("log-level", "info")
	viper.SetDefault("short-circuit-policy", string(ShortCircuitSkipOwner))
	viper.SetDefault("strict-rules", false)
	viper.SetDefault("mitm.enabled", false)
	viper.SetDefault("mitm.default-allow", false)
	viper.SetDefault("mitm.insecure-skip-verify", false)
}

// BuildConfigFromViper decodes the merged viper state (defaults, config
// file, env, flags) into a validated Config.
func BuildConfigFromViper() (*Config, error) {
	cfg := &Config{}
	err := viper.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.StringToTimeDurationHookFunc(),
	)))
	if err != nil {
		return nil, fmt.Errorf("viper.Unmarshal: %w", err)
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.ShortCircuitPolicy = ShortCircuitPolicy(strings.ToLower(strings.TrimSpace(string(cfg.ShortCircuitPolicy))))
	if cfg.ShortCircuitPolicy == "" {
		cfg.ShortCircuitPolicy = ShortCircuitSkipOwner
	}

	if len(cfg.Rules) > 0 {
		for i := range cfg.Rules {
			cfg.Rules[i].Enabled = true
		}
	} else if cfg.RulesJSON != "" {
		if err := json.Unmarshal([]byte(cfg.RulesJSON), &cfg.Rules); err != nil {
			return nil, fmt.Errorf("failed to parse rules JSON: %w", err)
		}
	}
	for i := range cfg.Rules {
		cfg.Rules[i].Normalize()
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.ListenAddr = net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.Port))
	return cfg, nil
}

func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("Log Level", c.LogLevel),
		slog.String("Listen Address", c.ListenAddr),
		slog.String("API Server", c.APIServer),
		slog.String("Short-Circuit Policy", string(c.ShortCircuitPolicy)),
		slog.Bool("MitM", c.MitM.Enabled),
		slog.Any("MitM Hostname", c.MitM.Hostname),
		slog.Int("Rules", len(c.Rules)),
	)
}
