package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 50051, cfg.Server.Port)
	assert.Equal(t, "gcn.nasa.gov", cfg.Domain)
	assert.Equal(t, StoreTarantool, cfg.Store.Driver)
	assert.Equal(t, "auto_increment_metadata", cfg.Store.CounterTable)
	assert.Equal(t, "circulars", cfg.Store.CounterKey)
	assert.Equal(t, "circulars", cfg.Store.RecordTable)
	assert.Equal(t, MailerLog, cfg.SMTP.Driver)
	assert.True(t, cfg.Listener.Enabled)
	assert.Equal(t, "gcn.circulars.faults", cfg.NATS.FaultSubject)
	assert.False(t, cfg.Vault.Enabled)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
domain: dev.gcn.nasa.gov
store:
  driver: redis
  max_attempts: 25
redis:
  url: redis://cache:6379/2
directory:
  driver: static
  members:
    - username: alice
      attributes:
        sub: sub-alice
        email: alice@example.com
smtp:
  driver: smtp
  host: smtp.example.com
  port: 2525
vault:
  enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dev.gcn.nasa.gov", cfg.Domain)
	assert.Equal(t, StoreRedis, cfg.Store.Driver)
	assert.Equal(t, 25, cfg.Store.MaxAttempts)
	assert.Equal(t, 20*time.Millisecond, cfg.Store.InitialBackoff, "unset keys keep their default")
	assert.Equal(t, "redis://cache:6379/2", cfg.Redis.URL)
	require.Len(t, cfg.Directory.Members, 1)
	assert.Equal(t, "alice@example.com", cfg.Directory.Members[0].Attributes["email"])
	assert.Equal(t, 2525, cfg.SMTP.Port)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
domain: dev.gcn.nasa.gov
store:
  driver: memory
`)
	t.Setenv("GCN_DOMAIN", "test.gcn.nasa.gov")
	t.Setenv("STORE_MAX_BACKOFF", "3s")
	t.Setenv("VALIDATION_SUBJECT_KEYWORDS", "GRB,GW")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test.gcn.nasa.gov", cfg.Domain)
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, 3*time.Second, cfg.Store.MaxBackoff)
	assert.Equal(t, []string{"GRB", "GW"}, cfg.Validation.SubjectKeywords)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "unknown_section: true\n"))
	assert.Error(t, err, "unknown keys are rejected")

	t.Setenv("SERVER_PORT", "not-a-number")
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"port", func(c *Config) { c.Server.Port = 0 }, "invalid server port: 0"},
		{"metrics port", func(c *Config) { c.Server.MetricsPort = 70000 }, "invalid metrics port: 70000"},
		{"domain", func(c *Config) { c.Domain = "" }, "domain is required"},
		{"bucket", func(c *Config) { c.MinIO.BucketName = "" }, "minio bucket name is required"},
		{"store driver", func(c *Config) { c.Store.Driver = "dynamodb" }, `unknown store driver "dynamodb"`},
		{"tarantool address", func(c *Config) { c.Tarantool.Address = "" }, "tarantool address is required"},
		{"redis url", func(c *Config) { c.Store.Driver = StoreRedis; c.Redis.URL = "" }, "redis url is required"},
		{"directory driver", func(c *Config) { c.Directory.Driver = "cognito" }, `unknown directory driver "cognito"`},
		{"smtp host", func(c *Config) { c.SMTP.Driver = MailerSMTP }, "smtp host is required"},
		{"no source", func(c *Config) { c.Listener.Enabled = false }, "no event source enabled: enable the listener or nats"},
		{"nats only", func(c *Config) { c.Listener.Enabled = false; c.NATS.Enabled = true }, ""},
		{"retention", func(c *Config) { c.Retention.Enabled = true; c.Retention.Days = 0 }, "retention days must be positive: 0"},
		{"vault", func(c *Config) { c.Vault.Enabled = true; c.Vault.Address = "" }, "vault address is required when vault is enabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.EqualError(t, err, tt.wantErr)
			}
		})
	}
}

func TestGetVaultToken(t *testing.T) {
	cfg := &VaultConfig{Token: "direct"}
	token, err := cfg.GetVaultToken()
	require.NoError(t, err)
	assert.Equal(t, "direct", token)

	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))
	token, err = (&VaultConfig{TokenPath: path}).GetVaultToken()
	require.NoError(t, err)
	assert.Equal(t, "from-file", token)

	_, err = (&VaultConfig{}).GetVaultToken()
	assert.EqualError(t, err, "vault token not configured")
}

type fakeSecrets map[string]map[string]interface{}

func (f fakeSecrets) GetSecret(ctx context.Context, path string) (map[string]interface{}, error) {
	secret, ok := f[path]
	if !ok {
		return nil, errors.New("secret not found: " + path)
	}
	return secret, nil
}

func TestApplyVaultSecrets(t *testing.T) {
	cfg := Default()
	cfg.Tarantool.VaultPath = "circulars/tarantool"
	cfg.SMTP.VaultPath = "circulars/smtp"
	cfg.MinIO.VaultPath = "circulars/minio"

	secrets := fakeSecrets{
		"circulars/tarantool": {"user": "ingest", "password": "t-secret"},
		"circulars/smtp":      {"username": "mailer", "password": "s-secret"},
		"circulars/minio":     {"access_key_id": "AKIA", "ignored": 42},
	}

	require.NoError(t, ApplyVaultSecrets(context.Background(), cfg, secrets))

	assert.Equal(t, "ingest", cfg.Tarantool.User)
	assert.Equal(t, "t-secret", cfg.Tarantool.Password)
	assert.Equal(t, "mailer", cfg.SMTP.Username)
	assert.Equal(t, "s-secret", cfg.SMTP.Password)
	assert.Equal(t, "AKIA", cfg.MinIO.AccessKeyID)
	assert.Equal(t, "minioadmin", cfg.MinIO.SecretAccessKey, "absent keys are left unchanged")
}

func TestApplyVaultSecrets_Errors(t *testing.T) {
	cfg := Default()
	cfg.Redis.VaultPath = "circulars/redis"

	err := ApplyVaultSecrets(context.Background(), cfg, fakeSecrets{})
	assert.ErrorContains(t, err, "failed to get redis secrets")

	var disabled *VaultClient
	assert.NoError(t, ApplyVaultSecrets(context.Background(), cfg, disabled))
	assert.NoError(t, ApplyVaultSecrets(context.Background(), cfg, nil))
}

func TestNewVaultClient_Disabled(t *testing.T) {
	client, err := NewVaultClient(&VaultConfig{Enabled: false})
	assert.NoError(t, err)
	assert.Nil(t, client)

	_, err = NewVaultClient(&VaultConfig{Enabled: true, Address: "http://127.0.0.1:8200"})
	assert.EqualError(t, err, "vault token not configured")
}
