package database

import (
	"strings"
	"testing"
)

// Integration tests with a real PostgreSQL instance are in client_integration_test.go

func TestNewClient_InvalidDSN(t *testing.T) {
	_, err := NewClient("invalid-dsn")
	if err == nil {
		t.Error("expected error for invalid DSN, got nil")
	}
}

func TestLocationsQuery(t *testing.T) {
	t.Run("date only", func(t *testing.T) {
		query, args := locationsQuery("2026-10-19", "")
		if len(args) != 1 || args[0] != "2026-10-19" {
			t.Errorf("unexpected args %v", args)
		}
		if strings.Contains(query, "device_id = $2") {
			t.Error("expected no device filter")
		}
		if !strings.HasSuffix(strings.TrimSpace(query), "ORDER BY created_at ASC") {
			t.Errorf("expected chronological ordering, got %q", query)
		}
	})

	t.Run("with device", func(t *testing.T) {
		query, args := locationsQuery("2026-10-19", "pixel8")
		if len(args) != 2 || args[1] != "pixel8" {
			t.Errorf("unexpected args %v", args)
		}
		if !strings.Contains(query, "AND device_id = $2") {
			t.Errorf("expected device filter, got %q", query)
		}
	})
}
