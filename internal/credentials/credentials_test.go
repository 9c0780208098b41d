package credentials

import (
	"testing"
)

func newTestManager(t *testing.T) (*Manager, *MockKeyring) {
	t.Helper()
	mock := NewMockKeyring()
	return NewManager(WithKeyring(mock)), mock
}

// TestRemoteDSNPriority verifies resolution order: config value first,
// then keyring, then environment.
func TestRemoteDSNPriority(t *testing.T) {
	m, _ := newTestManager(t)
	t.Setenv(EnvRemoteDSN, "postgres://env/db")

	if dsn, src := m.RemoteDSN("postgres://config/db"); dsn != "postgres://config/db" || src != SourceConfig {
		t.Errorf("config override: got %q from %q", dsn, src)
	}

	if dsn, src := m.RemoteDSN(""); dsn != "postgres://env/db" || src != SourceEnvironment {
		t.Errorf("env fallback: got %q from %q", dsn, src)
	}

	if err := m.StoreRemoteDSN("postgres://keyring/db"); err != nil {
		t.Fatalf("StoreRemoteDSN error: %v", err)
	}
	if dsn, src := m.RemoteDSN(""); dsn != "postgres://keyring/db" || src != SourceKeyring {
		t.Errorf("keyring beats env: got %q from %q", dsn, src)
	}
}

// TestRemoteDSNNone verifies the empty result when nothing is set.
func TestRemoteDSNNone(t *testing.T) {
	m, _ := newTestManager(t)
	t.Setenv(EnvRemoteDSN, "")

	if dsn, src := m.RemoteDSN(""); dsn != "" || src != SourceNone {
		t.Errorf("got %q from %q, want empty from none", dsn, src)
	}
}

// TestStoreRejectsEmptyDSN verifies blank values never reach the
// keyring.
func TestStoreRejectsEmptyDSN(t *testing.T) {
	m, mock := newTestManager(t)

	if err := m.StoreRemoteDSN("   "); err == nil {
		t.Error("expected error for blank DSN")
	}
	if _, err := mock.Get(serviceName, dsnAccount); err == nil {
		t.Error("blank DSN was stored")
	}
}

// TestDeleteIdempotent verifies deleting an absent credential is not an
// error.
func TestDeleteIdempotent(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.DeleteRemoteDSN(); err != nil {
		t.Errorf("delete of absent credential: %v", err)
	}

	if err := m.StoreRemoteDSN("postgres://keyring/db"); err != nil {
		t.Fatalf("StoreRemoteDSN error: %v", err)
	}
	if err := m.DeleteRemoteDSN(); err != nil {
		t.Errorf("first delete: %v", err)
	}
	if err := m.DeleteRemoteDSN(); err != nil {
		t.Errorf("second delete: %v", err)
	}

	t.Setenv(EnvRemoteDSN, "")
	if dsn, src := m.RemoteDSN(""); dsn != "" || src != SourceNone {
		t.Errorf("credential survived delete: %q from %q", dsn, src)
	}
}
