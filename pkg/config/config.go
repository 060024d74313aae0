package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/sirosfoundation/kettle/pkg/logging"
	"github.com/sirosfoundation/kettle/pkg/resolver"
)

// EnvPrefix is the prefix of environment variable overrides, e.g. KETTLE_SERVER_PORT
const EnvPrefix = "KETTLE"

// Config represents the configuration of one server
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   logging.Config  `yaml:"logging" envconfig:"LOGGING"`
	Transport TransportConfig `yaml:"transport" envconfig:"TRANSPORT"`
	Handshake HandshakeConfig `yaml:"handshake" envconfig:"HANDSHAKE"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	CORS      CORSConfig      `yaml:"cors" envconfig:"CORS"`
	Metrics   MetricsConfig   `yaml:"metrics" envconfig:"METRICS"`
	Routes    []RouteConfig   `yaml:"routes" ignored:"true"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Name         string        `yaml:"name" envconfig:"NAME"`
	Host         string        `yaml:"host" envconfig:"HOST"`
	Port         int           `yaml:"port" envconfig:"PORT"` // 0 picks a free port
	AdminToken   string        `yaml:"admin_token" envconfig:"ADMIN_TOKEN"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
}

// TransportConfig controls socket payload encoding and buffering
type TransportConfig struct {
	JSONReceive     bool `yaml:"json_receive" envconfig:"JSON_RECEIVE"`
	JSONSend        bool `yaml:"json_send" envconfig:"JSON_SEND"`
	ReadBufferSize  int  `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int  `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	MessageBuffer   int  `yaml:"message_buffer" envconfig:"MESSAGE_BUFFER"`
}

// HandshakeConfig configures the middleware chain run before socket upgrades
type HandshakeConfig struct {
	// JWTSecret enables bearer token verification when set
	JWTSecret string `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
	// TokenParam is the query parameter checked when no Authorization header is sent
	TokenParam string `yaml:"token_param" envconfig:"TOKEN_PARAM"`
}

// RateLimitConfig contains per-client rate limiting configuration
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled" envconfig:"ENABLED"`
	MaxRequests    int  `yaml:"max_requests" envconfig:"MAX_REQUESTS"`
	WindowSeconds  int  `yaml:"window_seconds" envconfig:"WINDOW_SECONDS"`
	LockoutSeconds int  `yaml:"lockout_seconds" envconfig:"LOCKOUT_SECONDS"`
}

// SetDefaults fills zero values
func (c *RateLimitConfig) SetDefaults() {
	if c.MaxRequests <= 0 {
		c.MaxRequests = 100
	}
	if c.WindowSeconds <= 0 {
		c.WindowSeconds = 60
	}
	if c.LockoutSeconds < 0 {
		c.LockoutSeconds = 0
	}
}

// CORSConfig contains the CORS policy
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" envconfig:"ALLOW_ORIGINS"`
	AllowMethods     []string      `yaml:"allow_methods" envconfig:"ALLOW_METHODS"`
	AllowHeaders     []string      `yaml:"allow_headers" envconfig:"ALLOW_HEADERS"`
	AllowCredentials bool          `yaml:"allow_credentials" envconfig:"ALLOW_CREDENTIALS"`
	MaxAge           time.Duration `yaml:"max_age" envconfig:"MAX_AGE"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"ENABLED"`
	Path    string `yaml:"path" envconfig:"ENDPOINT"`
}

// RouteConfig declares one route of the routing table. Routes are matched in the
// order they are listed.
type RouteConfig struct {
	Method    string `yaml:"method"`
	Route     string `yaml:"route"`
	Handler   string `yaml:"handler"`
	Transport string `yaml:"transport"` // http, ws, socket-event
}

// Loader reads configuration files. The zero value uses the default resolver and
// loads ".env" from the working directory when present.
type Loader struct {
	Resolver  *resolver.Resolver
	EnvPrefix string
	// DotEnv lists dotenv files to load before rendering. Missing files are skipped.
	DotEnv []string
}

// Load loads configuration from file and environment variables using the default Loader
func Load(configFile string) (*Config, error) {
	return Loader{}.Load(configFile)
}

// LoadNamed loads the configuration called name from dir using the default Loader
func LoadNamed(dir, name string) (*Config, error) {
	return Loader{}.LoadNamed(dir, name)
}

func (l Loader) resolver() *resolver.Resolver {
	if l.Resolver == nil {
		return resolver.New()
	}
	return l.Resolver
}

func (l Loader) prefix() string {
	if l.EnvPrefix == "" {
		return EnvPrefix
	}
	return l.EnvPrefix
}

// Load loads configuration from configFile. A missing file leaves the defaults in
// place; environment variables are applied last.
func (l Loader) Load(configFile string) (*Config, error) {
	return l.load(configFile, false, l.prefix())
}

// LoadNamed looks for name.yaml, name.yml or name.json in dir and loads it. Unlike
// Load, a missing file is an error. Environment overrides use the prefix
// <EnvPrefix>_<NAME>, so constituents of a multi-server each get their own.
func (l Loader) LoadNamed(dir, name string) (*Config, error) {
	r := l.resolver()
	var first string
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		path := filepath.Join(dir, name+ext)
		if first == "" {
			first = path
		}
		_, err := r.File(path)
		if err == nil {
			return l.load(path, true, NamedEnvPrefix(l.prefix(), name))
		}
		var notFound *resolver.FileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	return nil, &resolver.FileNotFoundError{Path: first, Resolved: r.ExpandPath(first)}
}

// NamedEnvPrefix returns the environment prefix of the configuration called name:
// prefix, an underscore and name upper-cased with every other character than
// letters and digits replaced by underscores.
func NamedEnvPrefix(prefix, name string) string {
	return prefix + "_" + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}

func (l Loader) load(configFile string, strict bool, envPrefix string) (*Config, error) {
	r := l.resolver()
	cfg := defaultConfig()

	if err := l.loadDotEnv(); err != nil {
		return nil, err
	}

	if configFile != "" {
		data, err := r.File(configFile)
		var notFound *resolver.FileNotFoundError
		switch {
		case errors.As(err, &notFound) && !strict:
			// File doesn't exist, that's ok - we'll use defaults and env vars
		case err != nil:
			return nil, err
		default:
			rendered, err := render(configFile, data, r)
			if err != nil {
				return nil, err
			}
			if err := yaml.Unmarshal(rendered, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (l Loader) loadDotEnv() error {
	files := l.DotEnv
	if files == nil {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// render expands env, file and args template functions in a configuration file
func render(name, data string, r *resolver.Resolver) ([]byte, error) {
	tmpl, err := template.New(filepath.Base(name)).
		Funcs(r.FuncMap()).
		Option("missingkey=error").
		Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, nil); err != nil {
		var notFound *resolver.FileNotFoundError
		if errors.As(err, &notFound) {
			return nil, notFound
		}
		return nil, fmt.Errorf("failed to render config file: %w", err)
	}
	return buf.Bytes(), nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible default values
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name:         "kettle",
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  2 * time.Minute,
		},
		Logging: logging.DefaultConfig(),
		Transport: TransportConfig{
			JSONReceive:     true,
			JSONSend:        true,
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			MessageBuffer:   16,
		},
		Handshake: HandshakeConfig{
			TokenParam: "token",
		},
		RateLimit: RateLimitConfig{
			MaxRequests:    100,
			WindowSeconds:  60,
			LockoutSeconds: 60,
		},
		CORS: CORSConfig{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
			MaxAge:       12 * time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

var validTransports = map[string]bool{"": true, "http": true, "ws": true, "websocket": true, "socket-event": true, "socket": true, "event": true}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Metrics.Enabled {
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics path must start with /: %q", c.Metrics.Path)
		}
		if c.Metrics.Path == "/health" || c.Metrics.Path == "/status" {
			return fmt.Errorf("metrics path %s is reserved", c.Metrics.Path)
		}
	}

	for i, r := range c.Routes {
		if r.Route == "" {
			return fmt.Errorf("route %d: route is required", i)
		}
		if r.Handler == "" {
			return fmt.Errorf("route %d (%s): handler is required", i, r.Route)
		}
		if !validTransports[strings.ToLower(r.Transport)] {
			return fmt.Errorf("route %d (%s): invalid transport: %s (must be http, ws or socket-event)", i, r.Route, r.Transport)
		}
	}

	return nil
}

// Address returns the server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
