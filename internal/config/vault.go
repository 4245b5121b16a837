package config

import (
	"context"
	"fmt"

	vault "github.com/hashicorp/vault/api"
)

// VaultClient wraps HashiCorp Vault client
type VaultClient struct {
	client *vault.Client
	config *VaultConfig
}

// NewVaultClient creates a new Vault client
func NewVaultClient(cfg *VaultConfig) (*VaultClient, error) {
	if !cfg.Enabled {
		return nil, nil // Vault is disabled
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	// Set token
	token, err := cfg.GetVaultToken()
	if err != nil {
		return nil, err
	}
	client.SetToken(token)

	// Set namespace if provided
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	return &VaultClient{
		client: client,
		config: cfg,
	}, nil
}

// GetSecret retrieves a secret from the KV v2 mount
func (vc *VaultClient) GetSecret(ctx context.Context, path string) (map[string]interface{}, error) {
	if vc == nil {
		return nil, fmt.Errorf("vault client is not initialized")
	}

	mount := vc.config.Mount
	if mount == "" {
		mount = "secret"
	}

	secret, err := vc.client.KVv2(mount).Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from vault: %w", err)
	}

	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("secret not found: %s", path)
	}

	return secret.Data, nil
}

// SecretSource reads one secret document
type SecretSource interface {
	GetSecret(ctx context.Context, path string) (map[string]interface{}, error)
}

// secretBinding maps the keys of one secret onto config fields
type secretBinding struct {
	name   string
	path   string
	fields map[string]*string
}

func (c *Config) secretBindings() []secretBinding {
	return []secretBinding{
		{"tarantool", c.Tarantool.VaultPath, map[string]*string{
			"user":     &c.Tarantool.User,
			"password": &c.Tarantool.Password,
		}},
		{"redis", c.Redis.VaultPath, map[string]*string{
			"url":      &c.Redis.URL,
			"password": &c.Redis.Password,
		}},
		{"postgres", c.Postgres.VaultPath, map[string]*string{
			"dsn": &c.Postgres.DSN,
		}},
		{"minio", c.MinIO.VaultPath, map[string]*string{
			"access_key_id":     &c.MinIO.AccessKeyID,
			"secret_access_key": &c.MinIO.SecretAccessKey,
		}},
		{"smtp", c.SMTP.VaultPath, map[string]*string{
			"username": &c.SMTP.Username,
			"password": &c.SMTP.Password,
		}},
		{"nats", c.NATS.VaultPath, map[string]*string{
			"username": &c.NATS.Username,
			"password": &c.NATS.Password,
			"token":    &c.NATS.Token,
		}},
	}
}

// ApplyVaultSecrets overlays credentials from every backend that names a
// vault_path. Keys absent from a secret leave the field unchanged.
func ApplyVaultSecrets(ctx context.Context, cfg *Config, source SecretSource) error {
	if source == nil {
		return nil // Vault is disabled
	}
	if vc, ok := source.(*VaultClient); ok && vc == nil {
		return nil
	}

	for _, b := range cfg.secretBindings() {
		if b.path == "" {
			continue
		}

		secret, err := source.GetSecret(ctx, b.path)
		if err != nil {
			return fmt.Errorf("failed to get %s secrets: %w", b.name, err)
		}

		for key, field := range b.fields {
			if value, ok := secret[key].(string); ok {
				*field = value
			}
		}
	}

	return nil
}
