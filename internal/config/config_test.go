package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synxronusage/internal/domain"
)

const sample = `
Server:
  Port: "8080"
Database:
  Host: db
  User: usage
  Password: secret
  Name: usage
Usage:
  BatchSize: 10
  LockTTL: 30s
  Stores:
    - workspace://SpacesStore
    - archive://SpacesStore
RepoUsage:
  MaxUsers: 100
  LicenseMode: enterprise
  LicenseExpiry: "2031-01-01T00:00:00Z"
Archive:
  Retention: 72h
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewConfig(t *testing.T) {
	t.Setenv("DATABASE_PASSWORD", "from-env")
	t.Setenv("USAGE_ENABLED", "false")
	t.Setenv("GRPC_PORT", "6000")

	cfg, err := NewConfig(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "6000", cfg.Server.GRPCPort)
	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.Equal(t, "5432", cfg.Database.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.False(t, cfg.Usage.Enabled)
	assert.Equal(t, 10, cfg.Usage.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Usage.LockTTL)
	assert.Equal(t, []string{domain.WorkspaceStore, domain.ArchiveStore}, cfg.Usage.Stores)
	assert.Equal(t, 72*time.Hour, cfg.Archive.Retention)
	assert.Equal(t, "System", cfg.Auth.SystemUser)

	assert.Equal(t, "host=db port=5432 user=usage password=from-env dbname=usage sslmode=disable", cfg.Database.GetDSN())
	assert.Equal(t, "postgres://usage:from-env@db:5432/usage?sslmode=disable", cfg.Database.GetURL())

	r, err := cfg.RepoUsage.Restrictions()
	require.NoError(t, err)
	assert.Equal(t, domain.LicenseModeEnterprise, r.LicenseMode)
	require.NotNil(t, r.Users)
	assert.Equal(t, int64(100), *r.Users)
	assert.Nil(t, r.Documents)
	require.NotNil(t, r.LicenseExpiryDate)
	assert.Equal(t, 2031, r.LicenseExpiryDate.Year())
}

func TestNewConfigEnvOnly(t *testing.T) {
	t.Setenv("DATABASE_HOST", "localhost")
	t.Setenv("DATABASE_USER", "usage")
	t.Setenv("DATABASE_NAME", "usage")

	cfg, err := NewConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.True(t, cfg.Usage.Enabled)
	assert.Equal(t, []string{domain.WorkspaceStore}, cfg.Usage.Stores)
	assert.Equal(t, "2525", cfg.Server.Port)
}

func TestNewConfigInvalid(t *testing.T) {
	_, err := NewConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "database configuration is incomplete")

	_, err = NewConfig(writeConfig(t, strings.Replace(sample, "enterprise", "gold", 1)))
	require.Error(t, err)
}

func TestRestrictions(t *testing.T) {
	t.Parallel()

	r, err := (&RepoUsageConfig{}).Restrictions()
	require.NoError(t, err)
	assert.Equal(t, domain.LicenseModeUnknown, r.LicenseMode)
	assert.Nil(t, r.Users)
	assert.Nil(t, r.LicenseExpiryDate)

	_, err = (&RepoUsageConfig{LicenseMode: "gold"}).Restrictions()
	require.ErrorContains(t, err, "unknown license mode")

	_, err = (&RepoUsageConfig{LicenseExpiry: "tomorrow"}).Restrictions()
	require.ErrorContains(t, err, "invalid license expiry")
}
