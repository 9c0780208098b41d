// Package credentials provides secure storage and retrieval of the
// remote database connection string using the OS-native keyring with
// fallback to environment variables.
package credentials

import (
	"fmt"
	"os"
	"strings"
)

// Keyring service and account names for the remote DSN.
const (
	serviceName = "planstore"
	dsnAccount  = "remote-dsn"

	// EnvRemoteDSN is the environment fallback for the remote DSN.
	EnvRemoteDSN = "PLANSTORE_REMOTE_DSN"
)

// Source indicates where a credential was retrieved from
type Source string

const (
	SourceConfig      Source = "config"
	SourceKeyring     Source = "keyring"
	SourceEnvironment Source = "environment"
	SourceNone        Source = "none"
)

// Keyring is the interface for keyring operations
type Keyring interface {
	Set(service, account, password string) error
	Get(service, account string) (string, error)
	Delete(service, account string) error
}

// Manager handles credential operations
type Manager struct {
	keyring Keyring
}

// ManagerOption is a functional option for Manager
type ManagerOption func(*Manager)

// WithKeyring sets a custom keyring implementation
func WithKeyring(k Keyring) ManagerOption {
	return func(m *Manager) {
		m.keyring = k
	}
}

// NewManager creates a new credential manager backed by the OS keyring
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		keyring: &systemKeyring{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RemoteDSN resolves the remote database connection string. Priority:
// explicit config value, then keyring, then environment.
func (m *Manager) RemoteDSN(configDSN string) (string, Source) {
	if configDSN != "" {
		return configDSN, SourceConfig
	}

	if dsn, err := m.keyring.Get(serviceName, dsnAccount); err == nil && dsn != "" {
		return dsn, SourceKeyring
	}

	if dsn := os.Getenv(EnvRemoteDSN); dsn != "" {
		return dsn, SourceEnvironment
	}

	return "", SourceNone
}

// StoreRemoteDSN saves the remote connection string in the keyring.
func (m *Manager) StoreRemoteDSN(dsn string) error {
	if strings.TrimSpace(dsn) == "" {
		return fmt.Errorf("credentials: empty DSN")
	}
	return m.keyring.Set(serviceName, dsnAccount, dsn)
}

// DeleteRemoteDSN removes the stored connection string. Idempotent.
func (m *Manager) DeleteRemoteDSN() error {
	err := m.keyring.Delete(serviceName, dsnAccount)
	if err != nil && strings.Contains(err.Error(), "not found") {
		return nil
	}
	return err
}
