package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `json:"logLevel" mapstructure:"logLevel"`
	Dir   string `json:"logsDir" mapstructure:"logsDir"`
}

// ViewerConfig holds viewport defaults for new viewer instances.
type ViewerConfig struct {
	FitPadding    float64 `json:"fitPadding" mapstructure:"fitPadding"`
	SurfaceWidth  float64 `json:"surfaceWidth" mapstructure:"surfaceWidth"`
	SurfaceHeight float64 `json:"surfaceHeight" mapstructure:"surfaceHeight"`
	TemplateDir   string  `json:"templateDir" mapstructure:"templateDir"`
}

// MemoryConfig holds in-memory/JSON storage backend settings.
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// WebsocketConfig holds the snapshot sync service settings.
type WebsocketConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
}

// StorageConfig selects and configures the snapshot backend.
type StorageConfig struct {
	Type      string          `json:"type" mapstructure:"type"`
	Memory    MemoryConfig    `json:"memory" mapstructure:"memory"`
	Websocket WebsocketConfig `json:"websocket" mapstructure:"websocket"`
}

// DatabaseConfig holds postgres connection settings.
type DatabaseConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// InfluxConfig holds performance telemetry settings.
type InfluxConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Host      string `json:"host" mapstructure:"host"`
	Port      string `json:"port" mapstructure:"port"`
	Protocol  string `json:"protocol" mapstructure:"protocol"`
	Token     string `json:"token" mapstructure:"token"`
	Org       string `json:"org" mapstructure:"org"`
	BackupDir string `json:"backupDir" mapstructure:"backupDir"`
}

// GraylogConfig holds GELF log forwarding settings.
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// OTelConfig holds OpenTelemetry log export settings.
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
	Stdout       bool          `json:"stdout" mapstructure:"stdout"`
}

// APIConfig holds web-frontend API client settings.
type APIConfig struct {
	ServerURL string        `json:"serverUrl" mapstructure:"serverUrl"`
	APIKey    string        `json:"apiKey" mapstructure:"apiKey"`
	Timeout   time.Duration `json:"timeout" mapstructure:"timeout"`
}

// Load reads configuration from the JSON file viewerd.json in configDir
// and sets default values.
func Load(configDir string) error {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	// Session identity stamped on exports; the host shell sets these.
	viper.SetDefault("experiment", "")
	viper.SetDefault("sessionLabel", "")

	viper.SetDefault("viewer.fitPadding", 100)
	viper.SetDefault("viewer.surfaceWidth", 800)
	viper.SetDefault("viewer.surfaceHeight", 600)
	viper.SetDefault("viewer.templateDir", "")

	viper.SetDefault("api.serverUrl", "http://localhost:5002")
	viper.SetDefault("api.apiKey", "")
	viper.SetDefault("api.timeout", "30s")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "tissuemaps")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "tissuemaps-metrics")
	viper.SetDefault("influx.backupDir", "")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "tissuemaps-viewerd")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
	viper.SetDefault("otel.stdout", false)

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./snapshots")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.websocket.url", "")
	viper.SetDefault("storage.websocket.secret", "")

	viper.SetConfigName("viewerd")
	viper.SetConfigType("json")
	viper.AddConfigPath(configDir)

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetLogConfig returns the logging settings.
func GetLogConfig() LogConfig {
	return LogConfig{
		Level: viper.GetString("logLevel"),
		Dir:   viper.GetString("logsDir"),
	}
}

// GetViewerConfig returns the viewport defaults.
func GetViewerConfig() ViewerConfig {
	return ViewerConfig{
		FitPadding:    viper.GetFloat64("viewer.fitPadding"),
		SurfaceWidth:  viper.GetFloat64("viewer.surfaceWidth"),
		SurfaceHeight: viper.GetFloat64("viewer.surfaceHeight"),
		TemplateDir:   viper.GetString("viewer.templateDir"),
	}
}

// GetStorageConfig returns the snapshot backend settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		Websocket: WebsocketConfig{
			URL:    viper.GetString("storage.websocket.url"),
			Secret: viper.GetString("storage.websocket.secret"),
		},
	}
}

// GetDatabaseConfig returns the postgres connection settings.
func GetDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:     viper.GetString("db.host"),
		Port:     viper.GetString("db.port"),
		Username: viper.GetString("db.username"),
		Password: viper.GetString("db.password"),
		Database: viper.GetString("db.database"),
	}
}

// GetInfluxConfig returns the telemetry settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:   viper.GetBool("influx.enabled"),
		Host:      viper.GetString("influx.host"),
		Port:      viper.GetString("influx.port"),
		Protocol:  viper.GetString("influx.protocol"),
		Token:     viper.GetString("influx.token"),
		Org:       viper.GetString("influx.org"),
		BackupDir: viper.GetString("influx.backupDir"),
	}
}

// GetGraylogConfig returns the GELF forwarding settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetOTelConfig returns the OpenTelemetry export settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
		Stdout:       viper.GetBool("otel.stdout"),
	}
}

// GetAPIConfig returns the web-frontend client settings.
func GetAPIConfig() APIConfig {
	return APIConfig{
		ServerURL: viper.GetString("api.serverUrl"),
		APIKey:    viper.GetString("api.apiKey"),
		Timeout:   viper.GetDuration("api.timeout"),
	}
}
