package telemetry

import (
	"context"
	"net"
	"testing"
)

func TestSettings_Active(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		want     bool
	}{
		{"empty", Settings{}, false},
		{"endpoint only", Settings{Endpoint: "http://localhost:4318"}, true},
		{"explicitly enabled", Settings{Endpoint: "http://localhost:4318", Enabled: "true"}, true},
		{"disabled", Settings{Endpoint: "http://localhost:4318", Enabled: "false"}, false},
		{"disabled uppercase", Settings{Endpoint: "http://localhost:4318", Enabled: "FALSE"}, false},
		{"enabled without endpoint", Settings{Enabled: "true"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.settings.Active(); got != tc.want {
				t.Errorf("Active() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("MEMORY_MCP_OTEL_ENDPOINT", "http://collector:4318")
	t.Setenv("MEMORY_MCP_OTEL_ENABLED", "true")

	s, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if s.Endpoint != "http://collector:4318" || s.Enabled != "true" {
		t.Errorf("FromEnv = %+v", s)
	}
}

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv("MEMORY_MCP_OTEL_ENDPOINT", "")
	t.Setenv("MEMORY_MCP_OTEL_ENABLED", "")

	shutdown, err := Setup(context.Background(), "test-service", "0.0.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_NoopWhenExplicitlyDisabled(t *testing.T) {
	t.Setenv("MEMORY_MCP_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("MEMORY_MCP_OTEL_ENABLED", "false")

	shutdown, err := Setup(context.Background(), "test-service", "0.0.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address so nothing is exported.
	t.Setenv("MEMORY_MCP_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("MEMORY_MCP_OTEL_ENABLED", "")

	shutdown, err := Setup(context.Background(), "test-service", "0.0.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSettings_CollectorAddr(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
		wantErr  bool
	}{
		{"http://collector:4318", "collector:4318", false},
		{"http://collector", "collector:80", false},
		{"https://collector/v1/traces", "collector:443", false},
		{"http://[::1]:4318", "[::1]:4318", false},
		{"collector:4318", "", true},
		{"://bad", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.endpoint, func(t *testing.T) {
			got, err := Settings{Endpoint: tc.endpoint}.CollectorAddr()
			if (err != nil) != tc.wantErr {
				t.Fatalf("CollectorAddr() error = %v, wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("CollectorAddr() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSettings_Reachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	up := Settings{Endpoint: "http://" + addr}
	if err := up.Reachable(context.Background()); err != nil {
		t.Fatalf("Reachable() = %v", err)
	}

	ln.Close()
	if err := up.Reachable(context.Background()); err == nil {
		t.Error("Reachable() should fail once the collector is gone")
	}
}
