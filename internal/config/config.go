// Package config loads and validates webdiff configuration via Viper.
package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration loaded via Viper.
type Config struct {
	Logging LoggingConfig         `mapstructure:"logging"`
	Status  StatusConfig          `mapstructure:"status"`
	Storage StorageConfig         `mapstructure:"storage"`
	DB      DBConfig              `mapstructure:"db"`
	PubSub  PubSubConfig          `mapstructure:"pubsub"`
	Daemons DaemonsConfig         `mapstructure:"daemons"`
	Roles   map[string]RoleConfig `mapstructure:"roles"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// StatusConfig controls the embedded status/metrics HTTP endpoint served
// while a crawl runs.
type StatusConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// StorageConfig selects the artifact store backend.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"` // local, gcs, memory, noop
	Root      string `mapstructure:"root"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the optional visit-record database.
type DBConfig struct {
	Provider string `mapstructure:"provider"` // postgres, noop
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
}

// PubSubConfig holds metadata for optional progress publication.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DaemonsConfig describes distributed mode: one worker daemon per deployment
// side, each owning its own browser, reached over the socket protocol.
type DaemonsConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	RefAddr          string `mapstructure:"ref_addr"`
	NewAddr          string `mapstructure:"new_addr"`
	SendTimeoutSec   int    `mapstructure:"send_timeout_seconds"`
	AnswerTimeoutSec int    `mapstructure:"answer_timeout_seconds"`
	ConnectBackoffMs int    `mapstructure:"connect_backoff_ms"`
}

// VisualConfig tunes the screenshot comparison.
type VisualConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Threshold is the fractional per-pixel color distance (0..1) above
	// which a pixel counts as different.
	Threshold float64 `mapstructure:"threshold"`
	// AcceptedPixels absorbs comparator noise observed on visually
	// identical renders; a differing-pixel count at or below it passes.
	AcceptedPixels int `mapstructure:"accepted_pixels"`
}

// LoginConfig describes the re-authentication form used by the replay
// escalation handler.
type LoginConfig struct {
	Path   string         `mapstructure:"path"`
	Fields map[string]any `mapstructure:"fields"` // selector -> raw value (single/list/per-os)
	Submit string         `mapstructure:"submit"`
}

// RoleConfig is the raw per-role crawl description as written in YAML.
type RoleConfig struct {
	RefBaseURL string   `mapstructure:"ref_base_url"`
	NewBaseURL string   `mapstructure:"new_base_url"`
	Routes     []string `mapstructure:"routes"`
	ByLink     bool     `mapstructure:"by_link"`
	ByClick    bool     `mapstructure:"by_click"`

	AllowHref  []string `mapstructure:"allow_href"`
	DenyHref   []string `mapstructure:"deny_href"`
	AllowURL   []string `mapstructure:"allow_url"`
	DenyURL    []string `mapstructure:"deny_url"`
	AllowXPath []string `mapstructure:"allow_xpath"`
	DenyXPath  []string `mapstructure:"deny_xpath"`

	MaxVisited int `mapstructure:"max_visited"`

	// VisitRPS throttles visit starts; zero means no pacing.
	VisitRPS   float64 `mapstructure:"visit_rps"`
	VisitBurst int     `mapstructure:"visit_burst"`

	ReadyTimeoutSec  int `mapstructure:"ready_timeout_seconds"`
	QuietWindowMs    int `mapstructure:"quiet_window_ms"`
	ScriptTimeoutSec int `mapstructure:"script_timeout_seconds"`
	NavRetries       int `mapstructure:"nav_retries"`
	RetrySleepMs     int `mapstructure:"retry_sleep_ms"`

	UserAgent       string   `mapstructure:"user_agent"`
	IgnoreSelectors []string `mapstructure:"ignore_selectors"`
	IgnoreAttrs     []string `mapstructure:"ignore_attrs"`

	Visual VisualConfig `mapstructure:"visual"`
	Login  LoginConfig  `mapstructure:"login"`
}

// Role is a RoleConfig with patterns compiled and durations resolved, the
// form every downstream component consumes.
type Role struct {
	Name       string
	RefBaseURL string
	NewBaseURL string
	Routes     []string
	ByLink     bool
	ByClick    bool

	AllowHref  []*regexp.Regexp
	DenyHref   []*regexp.Regexp
	AllowURL   []*regexp.Regexp
	DenyURL    []*regexp.Regexp
	AllowXPath []*regexp.Regexp
	DenyXPath  []*regexp.Regexp

	MaxVisited int
	VisitRPS   float64
	VisitBurst int

	ReadyTimeout  time.Duration
	QuietWindow   time.Duration
	ScriptTimeout time.Duration
	NavRetries    int
	RetrySleep    time.Duration

	UserAgent       string
	IgnoreSelectors []string
	IgnoreAttrs     []string

	Visual VisualConfig
	Login  Login
}

// FieldFill pairs a form-field selector with its resolved-shape value.
type FieldFill struct {
	Selector string
	Value    Value
}

// Login is the compiled re-authentication description.
type Login struct {
	Path   string
	Fields []FieldFill
	Submit string
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEBDIFF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("status.enabled", false)
	v.SetDefault("status.port", 8099)
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.root", "webdiff-out")
	v.SetDefault("db.provider", "noop")
	v.SetDefault("db.table", "visits")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("daemons.enabled", false)
	v.SetDefault("daemons.send_timeout_seconds", 10)
	v.SetDefault("daemons.answer_timeout_seconds", 120)
	v.SetDefault("daemons.connect_backoff_ms", 500)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Roles) == 0 {
		return fmt.Errorf("at least one role must be configured")
	}
	for name, role := range c.Roles {
		if role.RefBaseURL == "" || role.NewBaseURL == "" {
			return fmt.Errorf("role %q: ref_base_url and new_base_url are required", name)
		}
		if len(role.Routes) == 0 {
			return fmt.Errorf("role %q: routes must not be empty", name)
		}
		if !role.ByLink && !role.ByClick {
			return fmt.Errorf("role %q: at least one of by_link, by_click must be enabled", name)
		}
		if role.Visual.Enabled && (role.Visual.Threshold <= 0 || role.Visual.Threshold > 1) {
			return fmt.Errorf("role %q: visual.threshold must be in (0, 1]", name)
		}
		if role.VisitRPS < 0 {
			return fmt.Errorf("role %q: visit_rps must not be negative", name)
		}
	}
	if c.Daemons.Enabled && (c.Daemons.RefAddr == "" || c.Daemons.NewAddr == "") {
		return fmt.Errorf("daemons.ref_addr and daemons.new_addr are required in distributed mode")
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket is required when storage.provider is gcs")
	}
	if c.DB.Provider == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required when db.provider is postgres")
	}
	return nil
}

// CompileRole resolves patterns and durations for the named role.
func (c Config) CompileRole(name string) (Role, error) {
	raw, ok := c.Roles[name]
	if !ok {
		return Role{}, fmt.Errorf("unknown role %q", name)
	}

	role := Role{
		Name:            name,
		RefBaseURL:      strings.TrimRight(raw.RefBaseURL, "/"),
		NewBaseURL:      strings.TrimRight(raw.NewBaseURL, "/"),
		Routes:          append([]string(nil), raw.Routes...),
		ByLink:          raw.ByLink,
		ByClick:         raw.ByClick,
		MaxVisited:      raw.MaxVisited,
		VisitRPS:        raw.VisitRPS,
		VisitBurst:      raw.VisitBurst,
		ReadyTimeout:    secondsOr(raw.ReadyTimeoutSec, 30*time.Second),
		QuietWindow:     millisOr(raw.QuietWindowMs, 500*time.Millisecond),
		ScriptTimeout:   secondsOr(raw.ScriptTimeoutSec, 10*time.Second),
		NavRetries:      intOr(raw.NavRetries, 2),
		RetrySleep:      millisOr(raw.RetrySleepMs, 1000*time.Millisecond),
		UserAgent:       raw.UserAgent,
		IgnoreSelectors: append([]string(nil), raw.IgnoreSelectors...),
		IgnoreAttrs:     append([]string(nil), raw.IgnoreAttrs...),
		Visual:          raw.Visual,
	}
	if role.MaxVisited <= 0 {
		role.MaxVisited = 500
	}

	var err error
	for _, set := range []struct {
		dst  *[]*regexp.Regexp
		src  []string
		what string
	}{
		{&role.AllowHref, raw.AllowHref, "allow_href"},
		{&role.DenyHref, raw.DenyHref, "deny_href"},
		{&role.AllowURL, raw.AllowURL, "allow_url"},
		{&role.DenyURL, raw.DenyURL, "deny_url"},
		{&role.AllowXPath, raw.AllowXPath, "allow_xpath"},
		{&role.DenyXPath, raw.DenyXPath, "deny_xpath"},
	} {
		*set.dst, err = compilePatterns(set.src)
		if err != nil {
			return Role{}, fmt.Errorf("role %q: %s: %w", name, set.what, err)
		}
	}

	role.Login, err = compileLogin(raw.Login)
	if err != nil {
		return Role{}, fmt.Errorf("role %q: login: %w", name, err)
	}

	return role, nil
}

func compileLogin(raw LoginConfig) (Login, error) {
	login := Login{Path: raw.Path, Submit: raw.Submit}
	selectors := make([]string, 0, len(raw.Fields))
	for sel := range raw.Fields {
		selectors = append(selectors, sel)
	}
	// Stable fill order so replayed logins behave identically.
	sort.Strings(selectors)
	for _, sel := range selectors {
		val, err := ParseValue(raw.Fields[sel])
		if err != nil {
			return Login{}, fmt.Errorf("field %q: %w", sel, err)
		}
		login.Fields = append(login.Fields, FieldFill{Selector: sel, Value: val})
	}
	return login, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func secondsOr(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Second
}

func millisOr(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}

func intOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
