// Package config loads and validates the engine's configuration from YAML
// files, environment variables and flag bindings via viper.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"org-backup-engine/internal/discovery"
	"org-backup-engine/internal/errors"
	"org-backup-engine/internal/logging"
	"org-backup-engine/internal/packaging"
	"org-backup-engine/internal/plan"
	"org-backup-engine/internal/storage"
)

// EnvPrefix is the prefix for environment variable overrides
const EnvPrefix = "ORG_BACKUP"

// Config is the engine's full configuration
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	LogFile  string `mapstructure:"log_file" yaml:"log_file"`

	// TenantDB holds the organizations' business data being backed up
	TenantDB DatabaseConfig `mapstructure:"tenant_db" yaml:"tenant_db"`

	// MetadataDB holds the engine's own records: backups, restores,
	// schedules, the audit trail and number counters.
	MetadataDB DatabaseConfig `mapstructure:"metadata_db" yaml:"metadata_db"`

	Discovery  DiscoveryConfig  `mapstructure:"discovery" yaml:"discovery"`
	Storage    []storage.Config `mapstructure:"storage" yaml:"storage"`
	Encryption EncryptionConfig `mapstructure:"encryption" yaml:"encryption"`
	Workers    WorkerConfig     `mapstructure:"workers" yaml:"workers"`
	Backup     BackupConfig     `mapstructure:"backup" yaml:"backup"`
	Restore    RestoreConfig    `mapstructure:"restore" yaml:"restore"`
	Schedule   ScheduleConfig   `mapstructure:"schedule" yaml:"schedule"`
	Plans      PlanConfig       `mapstructure:"plans" yaml:"plans"`
}

// Redacted returns a copy safe to print: passwords are masked
func (c *Config) Redacted() Config {
	redacted := *c
	if redacted.TenantDB.Password != "" {
		redacted.TenantDB.Password = "********"
	}
	if redacted.MetadataDB.Password != "" {
		redacted.MetadataDB.Password = "********"
	}
	redacted.Storage = make([]storage.Config, len(c.Storage))
	copy(redacted.Storage, c.Storage)
	for i := range redacted.Storage {
		if redacted.Storage[i].S3.SecretKey != "" {
			redacted.Storage[i].S3.SecretKey = "********"
		}
		if redacted.Storage[i].Azure.AccountKey != "" {
			redacted.Storage[i].Azure.AccountKey = "********"
		}
	}
	return redacted
}

// DatabaseConfig describes one MySQL connection
type DatabaseConfig struct {
	Host     string        `mapstructure:"host" yaml:"host"`
	Port     int           `mapstructure:"port" yaml:"port"`
	Username string        `mapstructure:"username" yaml:"username"`
	Password string        `mapstructure:"password" yaml:"password"`
	Database string        `mapstructure:"database" yaml:"database"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// DSN builds the go-sql-driver connection string. parseTime stays off; the
// extraction pipeline reads every value as raw bytes.
func (c *DatabaseConfig) DSN() string {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?timeout=%s&multiStatements=false",
		c.Username, c.Password, c.Host, c.Port, c.Database, timeout)
}

// Validate checks the connection settings
func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		return errors.NewConfigurationError("database host is required", nil)
	}
	if c.Username == "" {
		return errors.NewConfigurationError("database username is required", nil)
	}
	if c.Database == "" {
		return errors.NewConfigurationError("database name is required", nil)
	}
	return nil
}

// SetDefaults fills unset connection fields
func (c *DatabaseConfig) SetDefaults() {
	if c.Port == 0 {
		c.Port = 3306
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// DiscoveryConfig mirrors the discovery service's settings with config tags
type DiscoveryConfig struct {
	Schemas          []string            `mapstructure:"schemas" yaml:"schemas"`
	TenantColumn     string              `mapstructure:"tenant_column" yaml:"tenant_column"`
	ExcludedTables   []string            `mapstructure:"excluded_tables" yaml:"excluded_tables"`
	CategoryMapping  map[string][]string `mapstructure:"category_mapping" yaml:"category_mapping"`
	CategoryPatterns map[string][]string `mapstructure:"category_patterns" yaml:"category_patterns"`
}

// ToDiscovery converts to the discovery service's own config type
func (c *DiscoveryConfig) ToDiscovery() discovery.Config {
	return discovery.Config{
		Schemas:          c.Schemas,
		TenantColumn:     c.TenantColumn,
		ExcludedTables:   c.ExcludedTables,
		CategoryMapping:  c.CategoryMapping,
		CategoryPatterns: c.CategoryPatterns,
	}
}

// SetDefaults excludes the engine's own bookkeeping tables from discovery
// so a backup can never contain backup records.
func (c *DiscoveryConfig) SetDefaults(metadataSchema string) {
	if c.TenantColumn == "" {
		c.TenantColumn = "org_id"
	}
	for _, table := range []string{
		"org_backups", "org_restores", "org_backup_schedules",
		"org_backup_audit", "org_backup_counters",
	} {
		qualified := metadataSchema + "." + table
		if !containsString(c.ExcludedTables, qualified) {
			c.ExcludedTables = append(c.ExcludedTables, qualified)
		}
	}
}

// EncryptionConfig locates the master key tenant keys derive from
type EncryptionConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	KeySource string `mapstructure:"key_source" yaml:"key_source"` // "env" or "file"
	KeyEnvVar string `mapstructure:"key_env_var" yaml:"key_env_var"`
	KeyPath   string `mapstructure:"key_path" yaml:"key_path"`
}

// SetDefaults fills unset encryption fields
func (c *EncryptionConfig) SetDefaults() {
	if c.Enabled && c.KeySource == "" {
		c.KeySource = "env"
	}
	if c.KeySource == "env" && c.KeyEnvVar == "" {
		c.KeyEnvVar = EnvPrefix + "_MASTER_KEY"
	}
}

// Validate checks the encryption settings
func (c *EncryptionConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.KeySource {
	case "env":
		if c.KeyEnvVar == "" {
			return errors.NewConfigurationError(
				"encryption key environment variable name is required", nil)
		}
	case "file":
		if c.KeyPath == "" {
			return errors.NewConfigurationError(
				"encryption key file path is required", nil)
		}
	default:
		return errors.NewConfigurationError(
			fmt.Sprintf("unknown encryption key source %q", c.KeySource), nil)
	}
	return nil
}

// MasterKey resolves the master key bytes. The key may be raw 32 bytes or
// hex-encoded; either way it is validated before use.
func (c *EncryptionConfig) MasterKey() ([]byte, error) {
	if !c.Enabled {
		return nil, nil
	}

	var material string
	switch c.KeySource {
	case "env":
		material = os.Getenv(c.KeyEnvVar)
		if material == "" {
			return nil, errors.NewConfigurationError(
				fmt.Sprintf("environment variable %s holds no key", c.KeyEnvVar), nil)
		}
	case "file":
		data, err := os.ReadFile(c.KeyPath)
		if err != nil {
			return nil, errors.NewConfigurationError(
				fmt.Sprintf("could not read key file %s", c.KeyPath), err)
		}
		material = string(data)
	default:
		return nil, errors.NewConfigurationError(
			fmt.Sprintf("unknown encryption key source %q", c.KeySource), nil)
	}

	material = strings.TrimSpace(material)
	key := []byte(material)
	if len(material) == packaging.KeySize*2 {
		if decoded, err := hex.DecodeString(material); err == nil {
			key = decoded
		}
	}

	if err := packaging.ValidateKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// WorkerConfig tunes the background job pool
type WorkerConfig struct {
	Count      int           `mapstructure:"count" yaml:"count"`
	QueueSize  int           `mapstructure:"queue_size" yaml:"queue_size"`
	JobTimeout time.Duration `mapstructure:"job_timeout" yaml:"job_timeout"`
}

// BackupConfig tunes the backup pipeline
type BackupConfig struct {
	DefaultCompression string `mapstructure:"default_compression" yaml:"default_compression"`
	ArchivePathPrefix  string `mapstructure:"archive_path_prefix" yaml:"archive_path_prefix"`
	ChunkSize          int    `mapstructure:"chunk_size" yaml:"chunk_size"`
	WriteBatchSize     int    `mapstructure:"write_batch_size" yaml:"write_batch_size"`
}

// Validate checks the backup settings
func (c *BackupConfig) Validate() error {
	if c.DefaultCompression != "" &&
		!packaging.ValidCompressionType(packaging.CompressionType(c.DefaultCompression)) {
		return errors.NewConfigurationError(
			fmt.Sprintf("unknown compression algorithm %q", c.DefaultCompression), nil)
	}
	if c.ChunkSize < 0 || c.WriteBatchSize < 0 {
		return errors.NewConfigurationError("batch sizes cannot be negative", nil)
	}
	return nil
}

// RestoreConfig tunes the restore pipeline
type RestoreConfig struct {
	IDColumn       string        `mapstructure:"id_column" yaml:"id_column"`
	RollbackWindow time.Duration `mapstructure:"rollback_window" yaml:"rollback_window"`
}

// ScheduleConfig tunes the schedule dispatcher
type ScheduleConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// PlanConfig assigns subscription tiers to organizations
type PlanConfig struct {
	Default string `mapstructure:"default" yaml:"default"`
	// Overrides maps organization ids to tier names
	Overrides map[string]string `mapstructure:"overrides" yaml:"overrides"`
}

// SetDefaults fills the default tier
func (c *PlanConfig) SetDefaults() {
	if c.Default == "" {
		c.Default = string(plan.DefaultTier)
	}
}

// Validate checks every named tier exists
func (c *PlanConfig) Validate() error {
	if !plan.ValidTier(plan.Tier(c.Default)) {
		return errors.NewConfigurationError(
			fmt.Sprintf("unknown default plan tier %q", c.Default), nil)
	}
	for orgID, tier := range c.Overrides {
		if !plan.ValidTier(plan.Tier(tier)) {
			return errors.NewConfigurationError(
				fmt.Sprintf("unknown plan tier %q for org %s", tier, orgID), nil)
		}
	}
	return nil
}

// Tiers converts the overrides for the engine's static plan source
func (c *PlanConfig) Tiers() map[string]plan.Tier {
	tiers := make(map[string]plan.Tier, len(c.Overrides))
	for orgID, tier := range c.Overrides {
		tiers[orgID] = plan.Tier(tier)
	}
	return tiers
}

// SetDefaults fills every unset field across the configuration
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = string(logging.LogLevelNormal)
	}
	c.TenantDB.SetDefaults()
	c.MetadataDB.SetDefaults()
	c.Discovery.SetDefaults(c.MetadataDB.Database)
	c.Encryption.SetDefaults()
	c.Plans.SetDefaults()

	if len(c.Storage) == 0 {
		c.Storage = []storage.Config{{
			Disk:  "local",
			Local: storage.LocalConfig{BasePath: "./org-backups"},
		}}
	}
	if c.Schedule.PollInterval == 0 {
		c.Schedule.PollInterval = time.Minute
	}
	if c.Backup.DefaultCompression == "" {
		c.Backup.DefaultCompression = string(packaging.CompressionTypeGzip)
	}
	if c.Backup.ArchivePathPrefix == "" {
		c.Backup.ArchivePathPrefix = "org_backups"
	}
}

// Validate checks the whole configuration
func (c *Config) Validate() error {
	switch logging.LogLevel(c.LogLevel) {
	case logging.LogLevelQuiet, logging.LogLevelNormal, logging.LogLevelVerbose, logging.LogLevelDebug:
	default:
		return errors.NewConfigurationError(
			fmt.Sprintf("unknown log level %q", c.LogLevel), nil)
	}

	if err := c.TenantDB.Validate(); err != nil {
		return fmt.Errorf("tenant_db: %w", err)
	}
	if err := c.MetadataDB.Validate(); err != nil {
		return fmt.Errorf("metadata_db: %w", err)
	}
	if len(c.Discovery.Schemas) == 0 {
		return errors.NewConfigurationError(
			"at least one discovery schema is required", nil)
	}

	seen := make(map[string]bool, len(c.Storage))
	for i := range c.Storage {
		disk := c.Storage[i].Disk
		if disk == "" {
			disk = "local"
			c.Storage[i].Disk = disk
		}
		if seen[disk] {
			return errors.NewConfigurationError(
				fmt.Sprintf("storage disk %q is configured twice", disk), nil)
		}
		seen[disk] = true
		if err := validateDisk(&c.Storage[i]); err != nil {
			return fmt.Errorf("storage %s: %w", disk, err)
		}
	}

	if err := c.Encryption.Validate(); err != nil {
		return err
	}
	if err := c.Backup.Validate(); err != nil {
		return err
	}
	if err := c.Plans.Validate(); err != nil {
		return err
	}
	return nil
}

func validateDisk(config *storage.Config) error {
	switch config.Disk {
	case "local":
		return config.Local.Validate()
	case "s3":
		return config.S3.Validate()
	case "gcs":
		return config.GCS.Validate()
	case "azure":
		return config.Azure.Validate()
	}
	return errors.NewConfigurationError(
		fmt.Sprintf("unsupported storage disk %q", config.Disk), nil)
}

// Load reads configuration from the given file, or from the default search
// paths when path is empty, applying environment overrides either way.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("org-backup-engine")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing file on the search path is fine; an explicit path is not
		if path != "" {
			return nil, errors.NewConfigurationError(
				fmt.Sprintf("could not read configuration file %s", path), err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.NewConfigurationError("could not read configuration", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errors.NewConfigurationError("could not parse configuration", err)
	}

	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
