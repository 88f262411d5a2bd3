package config

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/r9s-ai/paypoint-blue/pkg/blue"
	"github.com/r9s-ai/paypoint-blue/pkg/callback"
	"github.com/r9s-ai/paypoint-blue/pkg/proxyrewrite"
	"github.com/r9s-ai/paypoint-blue/pkg/trafficdump"
)

type Config struct {
	Gateway struct {
		// Kind is "api" or "hosted".
		Kind        string `yaml:"kind"`
		Endpoint    string `yaml:"endpoint"`
		InstID      string `yaml:"inst_id"`
		APIID       string `yaml:"api_id"`
		APIPassword string `yaml:"api_password"`
		TimeoutMs   int    `yaml:"timeout_ms"`
		Raw         bool   `yaml:"raw"`
		// DisableCaseConversion sends and returns keys untouched.
		DisableCaseConversion bool           `yaml:"disable_case_conversion"`
		Defaults              map[string]any `yaml:"defaults"`
	} `yaml:"gateway"`

	Proxy struct {
		Bucket string `yaml:"bucket"`
		Domain string `yaml:"domain"`
		// Paths are literal dot paths or /regexp/ patterns.
		Paths []string `yaml:"paths"`
	} `yaml:"proxy"`

	Server struct {
		Listen         string `yaml:"listen"`
		ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
		WriteTimeoutMs int    `yaml:"write_timeout_ms"`
		PidFile        string `yaml:"pid_file"`
	} `yaml:"server"`

	Callbacks struct {
		PreAuthAction  string `yaml:"pre_auth_action"`
		PostAuthAction string `yaml:"post_auth_action"`
		// Token, when set, must accompany every callback as ?token= or
		// X-Callback-Token.
		Token      string `yaml:"token"`
		AutoReload struct {
			Enabled    bool `yaml:"enabled"`
			DebounceMs int  `yaml:"debounce_ms"`
		} `yaml:"auto_reload"`
	} `yaml:"callbacks"`

	TrafficDump struct {
		Enabled     bool   `yaml:"enabled"`
		Dir         string `yaml:"dir"`
		FilePath    string `yaml:"file_path"`
		MaxBytes    int    `yaml:"max_bytes"`
		MaskSecrets *bool  `yaml:"mask_secrets"`
	} `yaml:"traffic_dump"`

	Logging struct {
		AccessLog *bool `yaml:"access_log"`
		// AccessLogPath is empty for stdout.
		AccessLogPath string `yaml:"access_log_path"`
		GatewayLog    bool   `yaml:"gateway_log"`
	} `yaml:"logging"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse is Load without the file read.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := decryptSecrets(&cfg); err != nil {
		return nil, err
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Gateway.Kind) == "" {
		cfg.Gateway.Kind = "api"
	}
	if strings.TrimSpace(cfg.Gateway.Endpoint) == "" {
		cfg.Gateway.Endpoint = blue.EndpointTest
	}
	if cfg.Gateway.TimeoutMs <= 0 {
		cfg.Gateway.TimeoutMs = 60000
	}
	if strings.TrimSpace(cfg.Server.Listen) == "" {
		cfg.Server.Listen = ":3000"
	}
	if cfg.Server.ReadTimeoutMs <= 0 {
		cfg.Server.ReadTimeoutMs = 60000
	}
	if cfg.Server.WriteTimeoutMs <= 0 {
		cfg.Server.WriteTimeoutMs = 60000
	}
	if strings.TrimSpace(cfg.Callbacks.PreAuthAction) == "" {
		cfg.Callbacks.PreAuthAction = callback.ActionProceed
	}
	if strings.TrimSpace(cfg.Callbacks.PostAuthAction) == "" {
		cfg.Callbacks.PostAuthAction = callback.ActionProceed
	}
	if cfg.Callbacks.AutoReload.DebounceMs <= 0 {
		cfg.Callbacks.AutoReload.DebounceMs = 300
	}
	if strings.TrimSpace(cfg.TrafficDump.Dir) == "" {
		cfg.TrafficDump.Dir = "./dumps"
	}
	if strings.TrimSpace(cfg.TrafficDump.FilePath) == "" {
		cfg.TrafficDump.FilePath = "{{.request_id}}.log"
	}
	if cfg.TrafficDump.MaxBytes == 0 {
		cfg.TrafficDump.MaxBytes = 1 * 1024 * 1024
	}
	if cfg.TrafficDump.MaskSecrets == nil {
		cfg.TrafficDump.MaskSecrets = boolPtr(true)
	}
	if cfg.Logging.AccessLog == nil {
		cfg.Logging.AccessLog = boolPtr(true)
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("BLUE_KIND")); v != "" {
		cfg.Gateway.Kind = v
	}
	if v := strings.TrimSpace(os.Getenv("BLUE_ENDPOINT")); v != "" {
		cfg.Gateway.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv(blue.EnvInstallation)); v != "" {
		cfg.Gateway.InstID = v
	}
	if v := strings.TrimSpace(os.Getenv(blue.EnvAPIID)); v != "" {
		cfg.Gateway.APIID = v
	}
	if v := strings.TrimSpace(os.Getenv(blue.EnvAPIPassword)); v != "" {
		cfg.Gateway.APIPassword = v
	}
	if v := strings.TrimSpace(os.Getenv("BLUE_PROXY_BUCKET")); v != "" {
		cfg.Proxy.Bucket = v
	}
	if v := strings.TrimSpace(os.Getenv("BLUE_LISTEN")); v != "" {
		cfg.Server.Listen = v
	}
	if v := strings.TrimSpace(os.Getenv("BLUE_PRE_AUTH_ACTION")); v != "" {
		cfg.Callbacks.PreAuthAction = v
	}
	if v := strings.TrimSpace(os.Getenv("BLUE_POST_AUTH_ACTION")); v != "" {
		cfg.Callbacks.PostAuthAction = v
	}
	if v := strings.TrimSpace(os.Getenv("BLUE_PID_FILE")); v != "" {
		cfg.Server.PidFile = v
	}
	if v := strings.TrimSpace(os.Getenv("BLUE_ACCESS_LOG_PATH")); v != "" {
		cfg.Logging.AccessLogPath = v
	}
	if v := strings.TrimSpace(os.Getenv("BLUE_CALLBACK_TOKEN")); v != "" {
		cfg.Callbacks.Token = v
	}
	cfg.TrafficDump.Enabled = envBool("BLUE_TRAFFIC_DUMP_ENABLED", cfg.TrafficDump.Enabled)
	if v := strings.TrimSpace(os.Getenv("BLUE_TRAFFIC_DUMP_DIR")); v != "" {
		cfg.TrafficDump.Dir = v
	}
	if v := strings.TrimSpace(os.Getenv("BLUE_TRAFFIC_DUMP_MAX_BYTES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TrafficDump.MaxBytes = n
		}
	}
	*cfg.TrafficDump.MaskSecrets = envBool("BLUE_TRAFFIC_DUMP_MASK_SECRETS", *cfg.TrafficDump.MaskSecrets)
	cfg.Logging.GatewayLog = envBool("BLUE_GATEWAY_LOG", cfg.Logging.GatewayLog)
	if v := strings.TrimSpace(os.Getenv("BLUE_TIMEOUT_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Gateway.TimeoutMs = n
		}
	}
}

func validate(cfg *Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Gateway.Kind)) {
	case "api", "hosted":
		cfg.Gateway.Kind = strings.ToLower(strings.TrimSpace(cfg.Gateway.Kind))
	default:
		return fmt.Errorf("gateway.kind must be api or hosted, got %q", cfg.Gateway.Kind)
	}
	if cfg.TrafficDump.MaxBytes < 0 {
		return errors.New("traffic_dump.max_bytes must be non-negative")
	}
	for _, a := range []*string{&cfg.Callbacks.PreAuthAction, &cfg.Callbacks.PostAuthAction} {
		norm, err := callback.NormalizeAction(*a)
		if err != nil {
			return fmt.Errorf("callbacks: %w", err)
		}
		*a = norm
	}
	if _, err := proxyPatterns(cfg.Proxy.Paths); err != nil {
		return err
	}
	if len(cfg.Proxy.Paths) > 0 && strings.TrimSpace(cfg.Proxy.Bucket) == "" {
		return errors.New("proxy.paths requires proxy.bucket")
	}
	return nil
}

// ClientOptions maps the gateway section to client options. l receives the
// per-call log line when logging.gateway_log is set.
func (c *Config) ClientOptions(l *log.Logger) (blue.Options, error) {
	paths, err := proxyPatterns(c.Proxy.Paths)
	if err != nil {
		return blue.Options{}, err
	}
	if len(paths) == 0 {
		paths = nil
	}
	o := blue.Options{
		Endpoint:              c.Gateway.Endpoint,
		InstID:                c.Gateway.InstID,
		APIID:                 c.Gateway.APIID,
		APIPassword:           c.Gateway.APIPassword,
		Defaults:              c.Gateway.Defaults,
		ProxyBucket:           c.Proxy.Bucket,
		ProxyDomain:           c.Proxy.Domain,
		ProxyPaths:            paths,
		Raw:                   c.Gateway.Raw,
		DisableCaseConversion: c.Gateway.DisableCaseConversion,
		Log:                   c.Logging.GatewayLog,
		HTTPClient:            &http.Client{Timeout: time.Duration(c.Gateway.TimeoutMs) * time.Millisecond},
		TrafficDump:           c.DumpConfig(),
	}
	if c.Logging.GatewayLog {
		o.Logger = l
	}
	return o, nil
}

// DumpConfig maps the traffic_dump section.
func (c *Config) DumpConfig() trafficdump.Config {
	mask := true
	if c.TrafficDump.MaskSecrets != nil {
		mask = *c.TrafficDump.MaskSecrets
	}
	return trafficdump.Config{
		Enabled:     c.TrafficDump.Enabled,
		Dir:         c.TrafficDump.Dir,
		FilePath:    c.TrafficDump.FilePath,
		MaxBytes:    c.TrafficDump.MaxBytes,
		MaskSecrets: mask,
	}
}

// Actions returns the callback reply table.
func (c *Config) Actions() callback.Actions {
	return callback.Actions{PreAuth: c.Callbacks.PreAuthAction, PostAuth: c.Callbacks.PostAuthAction}
}

// AccessLogEnabled reports whether the callback server logs each request.
func (c *Config) AccessLogEnabled() bool {
	return c.Logging.AccessLog == nil || *c.Logging.AccessLog
}

func proxyPatterns(raw []string) ([]proxyrewrite.Pattern, error) {
	out := make([]proxyrewrite.Pattern, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if len(s) >= 2 && strings.HasPrefix(s, "/") && strings.HasSuffix(s, "/") {
			p, err := proxyrewrite.Regexp(s[1 : len(s)-1])
			if err != nil {
				return nil, fmt.Errorf("proxy.paths: %w", err)
			}
			out = append(out, p)
			continue
		}
		out = append(out, proxyrewrite.Literal(s))
	}
	return out, nil
}

func boolPtr(v bool) *bool { return &v }

func envBool(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}
