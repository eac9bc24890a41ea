package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"synxronusage/internal/domain"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"Server"`
	Database  DatabaseConfig  `mapstructure:"Database"`
	Redis     RedisConfig     `mapstructure:"Redis"`
	S3        S3Config        `mapstructure:"S3"`
	Auth      AuthConfig      `mapstructure:"Auth"`
	Usage     UsageConfig     `mapstructure:"Usage"`
	RepoUsage RepoUsageConfig `mapstructure:"RepoUsage"`
	Archive   ArchiveConfig   `mapstructure:"Archive"`
	Log       LogConfig       `mapstructure:"Log"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"Port"`
	GRPCPort        string        `mapstructure:"GRPCPort"`
	RequestTimeout  time.Duration `mapstructure:"RequestTimeout"`
	ShutdownTimeout time.Duration `mapstructure:"ShutdownTimeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"Host"`
	Port     string `mapstructure:"Port"`
	User     string `mapstructure:"User"`
	Password string `mapstructure:"Password"`
	Name     string `mapstructure:"Name"`
	SSLMode  string `mapstructure:"SSLMode"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"Addr"`
	Password  string `mapstructure:"Password"`
	DB        int    `mapstructure:"DB"`
	KeyPrefix string `mapstructure:"KeyPrefix"`
}

// S3Config selects the bucket for content objects. Content is kept in
// memory when Bucket is empty.
type S3Config struct {
	AccessKeyID     string `mapstructure:"AccessKeyID"`
	SecretAccessKey string `mapstructure:"SecretAccessKey"`
	Bucket          string `mapstructure:"Bucket"`
	Endpoint        string `mapstructure:"Endpoint"`
	Region          string `mapstructure:"Region"`
}

type AuthConfig struct {
	SystemUser string   `mapstructure:"SystemUser"`
	AdminUsers []string `mapstructure:"AdminUsers"`
}

type UsageConfig struct {
	Enabled          bool          `mapstructure:"Enabled"`
	Stores           []string      `mapstructure:"Stores"`
	BatchSize        int           `mapstructure:"BatchSize"`
	LockTTL          time.Duration `mapstructure:"LockTTL"`
	CollapseSchedule string        `mapstructure:"CollapseSchedule"`
	TxRetries        int           `mapstructure:"TxRetries"`
}

type RepoUsageConfig struct {
	Schedule      string        `mapstructure:"Schedule"`
	LockTTL       time.Duration `mapstructure:"LockTTL"`
	ExcludedUsers []string      `mapstructure:"ExcludedUsers"`
	MaxUsers      int64         `mapstructure:"MaxUsers"`
	MaxDocuments  int64         `mapstructure:"MaxDocuments"`
	LicenseMode   string        `mapstructure:"LicenseMode"`
	// LicenseExpiry is an RFC 3339 timestamp; empty means no expiry.
	LicenseExpiry string `mapstructure:"LicenseExpiry"`
}

type ArchiveConfig struct {
	Retention     time.Duration `mapstructure:"Retention"`
	PurgeSchedule string        `mapstructure:"PurgeSchedule"`
}

type LogConfig struct {
	Level       string `mapstructure:"Level"`
	Development bool   `mapstructure:"Development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Server.Port", "2525")
	v.SetDefault("Server.GRPCPort", "50051")
	v.SetDefault("Server.RequestTimeout", time.Minute)
	v.SetDefault("Server.ShutdownTimeout", 30*time.Second)

	v.SetDefault("Database.Host", "")
	v.SetDefault("Database.Port", "5432")
	v.SetDefault("Database.User", "")
	v.SetDefault("Database.Password", "")
	v.SetDefault("Database.Name", "")
	v.SetDefault("Database.SSLMode", "disable")

	v.SetDefault("Redis.Addr", "localhost:6379")
	v.SetDefault("Redis.Password", "")
	v.SetDefault("Redis.DB", 0)
	v.SetDefault("Redis.KeyPrefix", "synxronusage:")

	v.SetDefault("S3.AccessKeyID", "")
	v.SetDefault("S3.SecretAccessKey", "")
	v.SetDefault("S3.Bucket", "")
	v.SetDefault("S3.Endpoint", "https://storage.yandexcloud.net")
	v.SetDefault("S3.Region", "ru-central1")

	v.SetDefault("Auth.SystemUser", "System")
	v.SetDefault("Auth.AdminUsers", []string{"admin"})

	v.SetDefault("Usage.Enabled", true)
	v.SetDefault("Usage.Stores", []string{domain.WorkspaceStore})
	v.SetDefault("Usage.BatchSize", 50)
	v.SetDefault("Usage.LockTTL", time.Minute)
	v.SetDefault("Usage.CollapseSchedule", "@every 1m")
	v.SetDefault("Usage.TxRetries", 3)

	v.SetDefault("RepoUsage.Schedule", "@every 5m")
	v.SetDefault("RepoUsage.LockTTL", time.Minute)
	v.SetDefault("RepoUsage.ExcludedUsers", []string{"System", "guest"})
	v.SetDefault("RepoUsage.MaxUsers", 0)
	v.SetDefault("RepoUsage.MaxDocuments", 0)
	v.SetDefault("RepoUsage.LicenseMode", string(domain.LicenseModeUnknown))
	v.SetDefault("RepoUsage.LicenseExpiry", "")

	v.SetDefault("Archive.Retention", 30*24*time.Hour)
	v.SetDefault("Archive.PurgeSchedule", "@every 1h")

	v.SetDefault("Log.Level", "info")
	v.SetDefault("Log.Development", false)
}

// NewConfig reads path and overlays environment variables. Every key can be
// set from the environment as SECTION_KEY, e.g. DATABASE_HOST or
// USAGE_ENABLED. A missing file is not an error.
func NewConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("Server.Port", "SERVER_PORT", "HTTP_PORT")
	_ = v.BindEnv("Server.GRPCPort", "SERVER_GRPCPORT", "GRPC_PORT")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
			fmt.Fprintf(os.Stderr, "Warning: config file %s not found, using defaults and environment\n", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Database.Host == "" || c.Database.User == "" || c.Database.Name == "" {
		return fmt.Errorf("database configuration is incomplete: host=%s, port=%s, user=%s, name=%s",
			c.Database.Host, c.Database.Port, c.Database.User, c.Database.Name)
	}
	if len(c.Usage.Stores) == 0 {
		return fmt.Errorf("usage: at least one tracked store is required")
	}
	if c.Usage.BatchSize <= 0 {
		return fmt.Errorf("usage: batch size must be positive, got %d", c.Usage.BatchSize)
	}
	if _, err := c.RepoUsage.Restrictions(); err != nil {
		return err
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

// GetURL returns the connection URL used by migrations.
func (c *DatabaseConfig) GetURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		c.SSLMode,
	)
}

// Restrictions converts the configured license limits. Zero limits mean
// unlimited.
func (c *RepoUsageConfig) Restrictions() (domain.RepoUsage, error) {
	r := domain.RepoUsage{LicenseMode: domain.LicenseMode(strings.ToUpper(c.LicenseMode))}
	switch r.LicenseMode {
	case "":
		r.LicenseMode = domain.LicenseModeUnknown
	case domain.LicenseModeUnknown, domain.LicenseModeTeam, domain.LicenseModeEnterprise:
	default:
		return r, fmt.Errorf("repo usage: unknown license mode %q", c.LicenseMode)
	}

	if c.MaxUsers > 0 {
		r.Users = domain.Int64Ptr(c.MaxUsers)
	}
	if c.MaxDocuments > 0 {
		r.Documents = domain.Int64Ptr(c.MaxDocuments)
	}
	if c.LicenseExpiry != "" {
		expiry, err := time.Parse(time.RFC3339, c.LicenseExpiry)
		if err != nil {
			return r, fmt.Errorf("repo usage: invalid license expiry: %w", err)
		}
		r.LicenseExpiryDate = &expiry
	}
	return r, nil
}
