package connection

import (
	"testing"
)

func TestNewManager(t *testing.T) {
	m := NewManager()
	if m == nil {
		t.Fatal("NewManager returned nil")
	}
	if m.Current() != nil {
		t.Error("new manager should have no current connection")
	}
}

func TestManager_Connect(t *testing.T) {
	m := NewManager()

	conn := &Connection{
		Name:        "test",
		Server:      "localhost:8080",
		BearerToken: "secret",
	}

	err := m.Connect(conn)
	if err != nil {
		t.Errorf("Connect failed: %v", err)
	}

	if m.Current() != conn {
		t.Error("Current() should return the connected connection")
	}

	if !m.IsConnected() {
		t.Error("IsConnected() should return true after Connect")
	}
}

func TestManager_Disconnect(t *testing.T) {
	m := NewManager()

	conn := &Connection{
		Name:   "test",
		Server: "localhost:8080",
	}

	_ = m.Connect(conn)
	m.Disconnect()

	if m.Current() != nil {
		t.Error("Current() should return nil after Disconnect")
	}

	if m.IsConnected() {
		t.Error("IsConnected() should return false after Disconnect")
	}
}

func TestManager_IsConnected(t *testing.T) {
	m := NewManager()

	if m.IsConnected() {
		t.Error("new manager should not be connected")
	}

	_ = m.Connect(&Connection{Server: "localhost"})

	if !m.IsConnected() {
		t.Error("should be connected after Connect")
	}

	m.Disconnect()

	if m.IsConnected() {
		t.Error("should not be connected after Disconnect")
	}
}

func TestConnection_Fields(t *testing.T) {
	conn := &Connection{
		Name:        "production",
		Server:      "node1.example.com:5080",
		BearerToken: "secret_key",
		ClientCert:  "/etc/fabricd/client.crt",
		ClientKey:   "/etc/fabricd/client.key",
	}

	if conn.Name != "production" {
		t.Errorf("Name = %q, want %q", conn.Name, "production")
	}
	if conn.Server != "node1.example.com:5080" {
		t.Errorf("Server = %q, want %q", conn.Server, "node1.example.com:5080")
	}
	if conn.BearerToken != "secret_key" {
		t.Errorf("BearerToken = %q, want %q", conn.BearerToken, "secret_key")
	}
	if conn.ClientCert != "/etc/fabricd/client.crt" {
		t.Errorf("ClientCert = %q, want %q", conn.ClientCert, "/etc/fabricd/client.crt")
	}
}
