// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Scope    ScopeConfig    `mapstructure:"scope"`
	App      AppConfig      `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host" validate:"required"`
	Port         string        `mapstructure:"port" validate:"required"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TLS          TLSConfig     `mapstructure:"tls"`
}

// TLSConfig represents TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	DBName         string        `mapstructure:"dbname"`
	SSLMode        string        `mapstructure:"sslmode"`
	MaxOpenConns   int           `mapstructure:"max_open_conns"`
	MaxIdleConns   int           `mapstructure:"max_idle_conns"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	MigrationsPath string        `mapstructure:"migrations_path"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	RateLimitEnabled  bool          `mapstructure:"rate_limit_enabled"`
	RateLimitRequests int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"required"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// ScopeConfig represents oscilloscope session configuration
type ScopeConfig struct {
	Transport            string           `mapstructure:"transport"`
	PollInterval         time.Duration    `mapstructure:"poll_interval"`
	SettleDelay          time.Duration    `mapstructure:"settle_delay"`
	InitialSyncDelay     time.Duration    `mapstructure:"initial_sync_delay"`
	CueCapacity          int              `mapstructure:"cue_capacity"`
	MaxFrameSize         int              `mapstructure:"max_frame_size"`
	AcceptUntestedModels bool             `mapstructure:"accept_untested_models"`
	CaptureDir           string           `mapstructure:"capture_dir"`
	CaptureRetention     time.Duration    `mapstructure:"capture_retention"`
	DiscoveryHosts       []string         `mapstructure:"discovery_hosts"`
	Ports                ScopePortsConfig `mapstructure:"ports"`
}

// ScopePortsConfig represents default transport settings per connection kind
type ScopePortsConfig struct {
	USBTMC USBTMCPortConfig `mapstructure:"usbtmc"`
	TCP    TCPPortConfig    `mapstructure:"tcp"`
	Serial SerialPortConfig `mapstructure:"serial"`
	USB    USBPortConfig    `mapstructure:"usb"`
}

// USBTMCPortConfig represents the kernel usbtmc character device
type USBTMCPortConfig struct {
	DevicePath string        `mapstructure:"device_path"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// TCPPortConfig represents TCP port configuration
type TCPPortConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	KeepAlive      bool          `mapstructure:"keep_alive"`
}

// SerialPortConfig represents serial port configuration
type SerialPortConfig struct {
	Port     string        `mapstructure:"port"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	StopBits int           `mapstructure:"stop_bits"`
	Parity   string        `mapstructure:"parity"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// USBPortConfig represents libusb USB-TMC configuration
type USBPortConfig struct {
	VendorID  string        `mapstructure:"vendor_id"`
	ProductID string        `mapstructure:"product_id"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Version     string `mapstructure:"version" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required"`
	Debug       bool   `mapstructure:"debug"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	return LoadFrom("./configs", ".", "/etc/scope-service")
}

// LoadFrom loads configuration searching the given directories for config.yaml.
// A missing file is not an error; defaults and environment still apply.
func LoadFrom(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	// Environment variable support
	v.SetEnvPrefix("SCOPE_SERVICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8084")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.tls.enabled", false)

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "scope_service")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "migrations")

	// Security defaults
	v.SetDefault("security.allowed_origins", []string{"*"})
	v.SetDefault("security.rate_limit_enabled", true)
	v.SetDefault("security.rate_limit_requests", 100)
	v.SetDefault("security.rate_limit_window", "1m")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Scope defaults
	v.SetDefault("scope.transport", "usbtmc")
	v.SetDefault("scope.poll_interval", "100ms")
	v.SetDefault("scope.settle_delay", "20ms")
	v.SetDefault("scope.initial_sync_delay", "0s")
	v.SetDefault("scope.cue_capacity", 128)
	v.SetDefault("scope.max_frame_size", 1<<21)
	v.SetDefault("scope.accept_untested_models", false)
	v.SetDefault("scope.capture_dir", "./data/captures")
	v.SetDefault("scope.capture_retention", "720h")
	v.SetDefault("scope.discovery_hosts", []string{})

	v.SetDefault("scope.ports.usbtmc.device_path", "/dev/usbtmc0")
	v.SetDefault("scope.ports.usbtmc.timeout", "5s")

	v.SetDefault("scope.ports.tcp.port", 5555)
	v.SetDefault("scope.ports.tcp.connect_timeout", "3s")
	v.SetDefault("scope.ports.tcp.read_timeout", "5s")
	v.SetDefault("scope.ports.tcp.write_timeout", "5s")
	v.SetDefault("scope.ports.tcp.keep_alive", true)

	v.SetDefault("scope.ports.serial.baud_rate", 115200)
	v.SetDefault("scope.ports.serial.data_bits", 8)
	v.SetDefault("scope.ports.serial.stop_bits", 1)
	v.SetDefault("scope.ports.serial.parity", "none")
	v.SetDefault("scope.ports.serial.timeout", "5s")

	v.SetDefault("scope.ports.usb.vendor_id", "0x1AB1")
	v.SetDefault("scope.ports.usb.timeout", "5s")

	// App defaults
	v.SetDefault("app.name", "scope-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if config.Database.Enabled && config.Database.Host == "" {
		return fmt.Errorf("database.host is required when database is enabled")
	}

	validEnvs := []string{"development", "staging", "production", "test"}
	isValidEnv := false
	for _, env := range validEnvs {
		if config.App.Environment == env {
			isValidEnv = true
			break
		}
	}
	if !isValidEnv {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	isValidLevel := false
	for _, level := range validLevels {
		if config.Logging.Level == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	validTransports := []string{"usbtmc", "tcp", "serial", "usb"}
	isValidTransport := false
	for _, t := range validTransports {
		if config.Scope.Transport == t {
			isValidTransport = true
			break
		}
	}
	if !isValidTransport {
		return fmt.Errorf("scope.transport must be one of: %v", validTransports)
	}

	if config.Scope.CueCapacity < 1 {
		return fmt.Errorf("scope.cue_capacity must be positive")
	}
	if config.Scope.PollInterval <= 0 {
		return fmt.Errorf("scope.poll_interval must be positive")
	}
	if config.Scope.SettleDelay < 0 {
		return fmt.Errorf("scope.settle_delay must not be negative")
	}
	if p := config.Scope.Ports.TCP.Port; p < 1 || p > 65535 {
		return fmt.Errorf("scope.ports.tcp.port out of range: %d", p)
	}

	return nil
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User,
		c.Database.Password, c.Database.DBName, c.Database.SSLMode)
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// TransportSettings returns the configured defaults for a connection kind
// in the loosely typed form accepted by protocol.CreateTransport.
func (c *Config) TransportSettings(kind string) map[string]interface{} {
	p := c.Scope.Ports
	switch kind {
	case "usbtmc":
		return map[string]interface{}{
			"device_path": p.USBTMC.DevicePath,
			"timeout":     p.USBTMC.Timeout.String(),
		}
	case "tcp":
		return map[string]interface{}{
			"host":            p.TCP.Host,
			"port":            p.TCP.Port,
			"connect_timeout": p.TCP.ConnectTimeout.String(),
			"read_timeout":    p.TCP.ReadTimeout.String(),
			"write_timeout":   p.TCP.WriteTimeout.String(),
			"keep_alive":      p.TCP.KeepAlive,
			"max_frame_size":  c.Scope.MaxFrameSize,
		}
	case "serial":
		return map[string]interface{}{
			"port":           p.Serial.Port,
			"baud_rate":      p.Serial.BaudRate,
			"data_bits":      p.Serial.DataBits,
			"stop_bits":      p.Serial.StopBits,
			"parity":         p.Serial.Parity,
			"timeout":        p.Serial.Timeout.String(),
			"max_frame_size": c.Scope.MaxFrameSize,
		}
	case "usb":
		return map[string]interface{}{
			"vendor_id":  p.USB.VendorID,
			"product_id": p.USB.ProductID,
			"timeout":    p.USB.Timeout.String(),
		}
	}
	return map[string]interface{}{}
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.IsDevelopment()
}
