package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
)

// CredentialStore holds provider API keys, persisted in credentials.toml.
type CredentialStore struct {
	credentials map[string]string // providerID → API key
}

type credentialsFile struct {
	Credentials map[string]string `toml:"credentials"`
}

func NewCredentialStore() *CredentialStore {
	return &CredentialStore{credentials: make(map[string]string)}
}

// Load reads credentials from dataDir. A missing file yields an empty store.
func (c *CredentialStore) Load(dataDir string) error {
	path := credentialsPath(dataDir)
	if !FileExists(path) {
		c.credentials = make(map[string]string)
		return nil
	}

	var cf credentialsFile
	if _, err := toml.DecodeFile(path, &cf); err != nil {
		return fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if cf.Credentials == nil {
		cf.Credentials = make(map[string]string)
	}
	c.credentials = cf.Credentials
	return nil
}

// Save writes credentials to dataDir with 0600 permissions.
func (c *CredentialStore) Save(dataDir string) error {
	if err := EnsureDir(dataDir); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	f, err := os.OpenFile(credentialsPath(dataDir), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create credentials file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(credentialsFile{Credentials: c.credentials}); err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	return nil
}

// Get retrieves a credential for a provider
func (c *CredentialStore) Get(providerID string) string {
	return c.credentials[providerID]
}

// Set stores a credential for a provider
func (c *CredentialStore) Set(providerID string, apiKey string) error {
	if providerID == "" {
		return fmt.Errorf("provider ID is required")
	}
	c.credentials[providerID] = apiKey
	return nil
}

// Delete removes a credential for a provider
func (c *CredentialStore) Delete(providerID string) error {
	delete(c.credentials, providerID)
	return nil
}

// Providers returns the IDs that have a stored credential, sorted.
func (c *CredentialStore) Providers() []string {
	ids := make([]string, 0, len(c.credentials))
	for id, key := range c.credentials {
		if key != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func credentialsPath(dataDir string) string {
	return filepath.Join(dataDir, "credentials.toml")
}
