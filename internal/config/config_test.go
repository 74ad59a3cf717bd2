package config

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"org-backup-engine/internal/errors"
	"org-backup-engine/internal/packaging"
	"org-backup-engine/internal/plan"
	"org-backup-engine/internal/storage"
)

func validConfig() *Config {
	return &Config{
		TenantDB:   DatabaseConfig{Host: "db", Username: "app", Database: "tenant_data"},
		MetadataDB: DatabaseConfig{Host: "db", Username: "engine", Database: "backup_meta"},
		Discovery:  DiscoveryConfig{Schemas: []string{"tenant_data"}},
	}
}

func TestConfig_DefaultsAndValidate(t *testing.T) {
	c := validConfig()
	c.SetDefaults()
	require.NoError(t, c.Validate())

	assert.Equal(t, "normal", c.LogLevel)
	assert.Equal(t, 3306, c.TenantDB.Port)
	assert.Equal(t, "org_id", c.Discovery.TenantColumn)
	assert.Equal(t, string(plan.DefaultTier), c.Plans.Default)
	assert.Equal(t, "gzip", c.Backup.DefaultCompression)

	require.Len(t, c.Storage, 1)
	assert.Equal(t, "local", c.Storage[0].Disk)
}

func TestConfig_ExcludesBookkeepingTables(t *testing.T) {
	c := validConfig()
	c.SetDefaults()

	for _, table := range []string{
		"backup_meta.org_backups", "backup_meta.org_restores",
		"backup_meta.org_backup_schedules", "backup_meta.org_backup_audit",
		"backup_meta.org_backup_counters",
	} {
		assert.Contains(t, c.Discovery.ExcludedTables, table)
	}

	// Applying defaults twice must not duplicate exclusions
	before := len(c.Discovery.ExcludedTables)
	c.SetDefaults()
	assert.Len(t, c.Discovery.ExcludedTables, before)
}

func TestConfig_ValidateFailures(t *testing.T) {
	c := validConfig()
	c.SetDefaults()
	c.LogLevel = "chatty"
	assert.Error(t, c.Validate())

	c = validConfig()
	c.TenantDB.Host = ""
	c.SetDefaults()
	assert.Error(t, c.Validate())

	c = validConfig()
	c.Discovery.Schemas = nil
	c.SetDefaults()
	assert.Error(t, c.Validate())

	c = validConfig()
	c.Plans.Overrides = map[string]string{"org-a": "platinum"}
	c.SetDefaults()
	assert.Error(t, c.Validate())

	c = validConfig()
	c.Backup.DefaultCompression = "lzma"
	c.SetDefaults()
	assert.Error(t, c.Validate())
}

func TestConfig_RedactedMasksSecrets(t *testing.T) {
	c := validConfig()
	c.TenantDB.Password = "tenant-secret"
	c.MetadataDB.Password = "meta-secret"
	c.Storage = []storage.Config{
		{Disk: "s3", S3: storage.S3Config{Region: "eu-west-1", Bucket: "b", SecretKey: "s3-secret"}},
		{Disk: "azure", Azure: storage.AzureConfig{AccountName: "a", AccountKey: "az-secret", ContainerName: "c"}},
	}

	redacted := c.Redacted()
	assert.Equal(t, "********", redacted.TenantDB.Password)
	assert.Equal(t, "********", redacted.MetadataDB.Password)
	assert.Equal(t, "********", redacted.Storage[0].S3.SecretKey)
	assert.Equal(t, "********", redacted.Storage[1].Azure.AccountKey)

	// The original is untouched
	assert.Equal(t, "tenant-secret", c.TenantDB.Password)
	assert.Equal(t, "s3-secret", c.Storage[0].S3.SecretKey)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	c := DatabaseConfig{Host: "db.internal", Username: "app", Password: "s3cret", Database: "tenant_data"}
	c.SetDefaults()
	assert.Equal(t,
		"app:s3cret@tcp(db.internal:3306)/tenant_data?timeout=30s&multiStatements=false",
		c.DSN())
}

func TestEncryptionConfig_MasterKeyFromEnv(t *testing.T) {
	key := make([]byte, packaging.KeySize)
	for i := range key {
		key[i] = byte(i + 1)
	}
	t.Setenv("TEST_MASTER_KEY", hex.EncodeToString(key))

	c := EncryptionConfig{Enabled: true, KeySource: "env", KeyEnvVar: "TEST_MASTER_KEY"}
	got, err := c.MasterKey()
	require.NoError(t, err)
	assert.Equal(t, key, got)

	t.Setenv("TEST_MASTER_KEY", "too-short")
	_, err = c.MasterKey()
	assert.True(t, errors.IsType(err, errors.ErrorTypeEncryption))

	t.Setenv("TEST_MASTER_KEY", "")
	_, err = c.MasterKey()
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
}

func TestEncryptionConfig_MasterKeyFromFile(t *testing.T) {
	key := make([]byte, packaging.KeySize)
	for i := range key {
		key[i] = byte(200 - i)
	}
	path := filepath.Join(t.TempDir(), "master.key")
	require.NoError(t, os.WriteFile(path, key, 0600))

	c := EncryptionConfig{Enabled: true, KeySource: "file", KeyPath: path}
	got, err := c.MasterKey()
	require.NoError(t, err)
	assert.Equal(t, key, got)

	c.KeyPath = filepath.Join(t.TempDir(), "missing.key")
	_, err = c.MasterKey()
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
}

func TestEncryptionConfig_DisabledResolvesNothing(t *testing.T) {
	c := EncryptionConfig{}
	key, err := c.MasterKey()
	require.NoError(t, err)
	assert.Nil(t, key)
}

func TestLoad_FromYAMLFile(t *testing.T) {
	content := `
log_level: verbose
tenant_db:
  host: tenant-db
  username: app
  password: secret
  database: tenant_data
metadata_db:
  host: meta-db
  username: engine
  database: backup_meta
discovery:
  schemas:
    - tenant_data
  tenant_column: org_id
storage:
  - disk: local
    local:
      base_path: /var/lib/org-backups
workers:
  count: 8
  queue_size: 128
plans:
  default: pro
  overrides:
    org-acme: enterprise
schedule:
  enabled: true
  poll_interval: 30s
`
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "verbose", c.LogLevel)
	assert.Equal(t, "tenant-db", c.TenantDB.Host)
	assert.Equal(t, "backup_meta", c.MetadataDB.Database)
	assert.Equal(t, []string{"tenant_data"}, c.Discovery.Schemas)
	assert.Equal(t, 8, c.Workers.Count)
	assert.Equal(t, "pro", c.Plans.Default)
	assert.Equal(t, plan.TierEnterprise, c.Plans.Tiers()["org-acme"])
	assert.True(t, c.Schedule.Enabled)
	assert.Equal(t, "/var/lib/org-backups", c.Storage[0].Local.BasePath)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
}
