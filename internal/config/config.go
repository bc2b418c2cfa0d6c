package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Storage    StorageConfig    `yaml:"storage"`
	SIS        SISConfig        `yaml:"sis"`
	Posting    PostingConfig    `yaml:"posting"`
	Enrollment EnrollmentConfig `yaml:"enrollment"`
	Notify     NotifyConfig     `yaml:"notify"`
	Workers    WorkersConfig    `yaml:"workers"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Env     string `yaml:"env"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" validate:"gte=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig points at the Moodle MySQL database. Prefix is Moodle's table prefix.
type DatabaseConfig struct {
	Host               string        `yaml:"host" validate:"required"`
	Port               int           `yaml:"port" validate:"required"`
	User               string        `yaml:"user" validate:"required"`
	Password           string        `yaml:"password"`
	Name               string        `yaml:"name" validate:"required"`
	Prefix             string        `yaml:"prefix"`
	Charset            string        `yaml:"charset"`
	Loc                string        `yaml:"loc"`
	MaxConnections     int           `yaml:"max_connections"`
	MaxIdleConnections int           `yaml:"max_idle_connections"`
	ConnectionLifetime time.Duration `yaml:"connection_lifetime"`
}

type RedisConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	RunQueue  string `yaml:"run_queue"`
	DLQSuffix string `yaml:"dlq_suffix"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	UseSSL       bool   `yaml:"use_ssl"`
	ReportPrefix string `yaml:"report_prefix"`
}

// Enabled reports whether an S3 bucket has been configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// SISConfig holds the connection settings for the SIS web services.
// Timeout of zero leaves the HTTP client without a deadline.
type SISConfig struct {
	BaseURL           string        `yaml:"base_url" validate:"required,url"`
	Username          string        `yaml:"username" validate:"required"`
	Password          string        `yaml:"password" validate:"required"`
	Timeout           time.Duration `yaml:"timeout"`
	TokenRefreshEvery int           `yaml:"token_refresh_every" validate:"gte=1"`
	SearchPageSize    int           `yaml:"search_page_size" validate:"gte=1"`
	SearchLevel       string        `yaml:"search_level" validate:"oneof=Short Long Full"`
	Timezone          string        `yaml:"timezone" validate:"required"`
	Debug             bool          `yaml:"debug"`
	DebugSink         string        `yaml:"debug_sink" validate:"omitempty,oneof=file s3"`
	DebugDir          string        `yaml:"debug_dir"`
}

type PostingConfig struct {
	Pipelines  []string `yaml:"pipelines" validate:"dive,oneof=odl pd hybrid"`
	DropGrades []string `yaml:"drop_grades"`
	HybridKey  string   `yaml:"hybrid_key"`
	PDSince    int64    `yaml:"pd_since"` // unix time; older PD activity is ignored
}

type EnrollmentConfig struct {
	Categories []int `yaml:"categories"`
}

type NotifyConfig struct {
	Enabled   bool     `yaml:"enabled"`
	APIKey    string   `yaml:"api_key" validate:"required_if=Enabled true"`
	FromName  string   `yaml:"from_name"`
	FromEmail string   `yaml:"from_email" validate:"required_if=Enabled true,omitempty,email"`
	Admins    []string `yaml:"admins" validate:"dive,email"`
}

type WorkersConfig struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

type SchedulerConfig struct {
	RunAt      string   `yaml:"run_at"`
	Jobs       []string `yaml:"jobs"`
	RunOnStart bool     `yaml:"run_on_start"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads CONFIG_PATH (default config.yaml) after overlaying ENV_FILE (default .env).
func Load() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	return LoadFile(configPath)
}

func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()
	config.applyEnv()

	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "sis-grade-sync"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Database.Prefix == "" {
		c.Database.Prefix = "mdl_"
	}
	if c.Database.Charset == "" {
		c.Database.Charset = "utf8mb4"
	}
	if c.Database.Loc == "" {
		c.Database.Loc = "UTC"
	}
	if c.Redis.RunQueue == "" {
		c.Redis.RunQueue = "sis:runs"
	}
	if c.Redis.DLQSuffix == "" {
		c.Redis.DLQSuffix = ":dlq"
	}
	if c.Storage.S3.ReportPrefix == "" {
		c.Storage.S3.ReportPrefix = "reports/"
	}
	if c.SIS.TokenRefreshEvery == 0 {
		c.SIS.TokenRefreshEvery = 100
	}
	if c.SIS.SearchPageSize == 0 {
		c.SIS.SearchPageSize = 250
	}
	if c.SIS.SearchLevel == "" {
		c.SIS.SearchLevel = "Short"
	}
	if c.SIS.Timezone == "" {
		c.SIS.Timezone = "America/Chicago"
	}
	if c.SIS.Debug && c.SIS.DebugSink == "" {
		c.SIS.DebugSink = "file"
	}
	if c.Posting.PDSince == 0 {
		c.Posting.PDSince = 1640973599
	}
	if c.Posting.HybridKey == "" {
		c.Posting.HybridKey = "hybrid/"
	}
	if len(c.Posting.DropGrades) == 0 {
		c.Posting.DropGrades = []string{"Withdrawal", "No Show"}
	}
	if c.Workers.Scheduler.RunAt == "" {
		c.Workers.Scheduler.RunAt = "02:00"
	}
}

// applyEnv lets secrets live outside the YAML file.
func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"SIS_BASE_URL":     &c.SIS.BaseURL,
		"SIS_USERNAME":     &c.SIS.Username,
		"SIS_PASSWORD":     &c.SIS.Password,
		"DB_PASSWORD":      &c.Database.Password,
		"REDIS_PASSWORD":   &c.Redis.Password,
		"S3_ACCESS_KEY":    &c.Storage.S3.AccessKey,
		"S3_SECRET_KEY":    &c.Storage.S3.SecretKey,
		"SENDGRID_API_KEY": &c.Notify.APIKey,
	}
	for name, field := range overrides {
		if v, ok := os.LookupEnv(name); ok && strings.TrimSpace(v) != "" {
			*field = v
		}
	}
}

// MySQL DSN format: [username[:password]@][protocol[(address)]]/dbname[?param1=value1&...&paramN=valueN]
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=true&loc=%s",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port,
		c.Database.Name, c.Database.Charset, c.Database.Loc)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Location resolves the SIS timezone used for dates exchanged with the SIS.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.SIS.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}
	return loc, nil
}
