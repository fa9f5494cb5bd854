// Package preflight checks that the remote services the server depends on
// are reachable before any transport starts.
package preflight

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zhubert/memory-mcp/config"
)

// DefaultProbeTimeout bounds a single dependency probe.
const DefaultProbeTimeout = 10 * time.Second

// Pinger is satisfied by *helix.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker is satisfied by *embedding.Client.
type Checker interface {
	Check(ctx context.Context) error
}

// Dependency is one remote service the server needs.
type Dependency struct {
	Name        string // Short name (e.g., "helix")
	Required    bool   // Whether startup must abort when unreachable
	Description string // Human-readable description
	Address     string // Where the probe goes
	Probe       func(ctx context.Context) error
}

// Dependencies returns the services cfg depends on. HelixDB is always
// required; the embedding service only when it is the configured provider.
func Dependencies(cfg *config.Config, helix Pinger, embedder Checker) []Dependency {
	deps := []Dependency{
		{
			Name:        "helix",
			Required:    true,
			Description: "HelixDB graph database",
			Address:     cfg.Helix.BaseURL(),
			Probe:       helix.Ping,
		},
	}
	if cfg.Embedding.UsesTCPEmbeddings() && embedder != nil {
		deps = append(deps, Dependency{
			Name:        "embedding",
			Required:    true,
			Description: "TCP embedding service",
			Address:     cfg.Embedding.TCPAddress,
			Probe:       embedder.Check,
		})
	}
	return deps
}

// Collector is the trace collector as an optional dependency. An
// unreachable collector is reported but never blocks startup.
func Collector(endpoint string, probe func(ctx context.Context) error) Dependency {
	return Dependency{
		Name:        "otel",
		Required:    false,
		Description: "OTLP trace collector",
		Address:     endpoint,
		Probe:       probe,
	}
}

// CheckResult contains the result of probing a dependency
type CheckResult struct {
	Dependency Dependency
	OK         bool
	Latency    time.Duration
	Error      error
}

// Check probes one dependency with DefaultProbeTimeout.
func Check(ctx context.Context, dep Dependency) CheckResult {
	result := CheckResult{Dependency: dep}

	ctx, cancel := context.WithTimeout(ctx, DefaultProbeTimeout)
	defer cancel()

	start := time.Now()
	err := dep.Probe(ctx)
	result.Latency = time.Since(start)
	if err != nil {
		result.Error = fmt.Errorf("%s at %s: %w", dep.Name, dep.Address, err)
		return result
	}
	result.OK = true
	return result
}

// CheckAll probes every dependency in order.
func CheckAll(ctx context.Context, deps []Dependency) []CheckResult {
	results := make([]CheckResult, len(deps))
	for i, dep := range deps {
		results[i] = Check(ctx, dep)
	}
	return results
}

// ValidateRequired returns an error naming every required dependency that
// failed its probe, or nil.
func ValidateRequired(results []CheckResult) error {
	var missing []string
	for _, r := range results {
		if r.OK || !r.Dependency.Required {
			continue
		}
		missing = append(missing, fmt.Sprintf("  - %s (%s): %v", r.Dependency.Name, r.Dependency.Description, r.Error))
	}
	if len(missing) > 0 {
		return fmt.Errorf("required services unreachable:\n%s", strings.Join(missing, "\n"))
	}
	return nil
}

// FormatCheckResults formats check results for display
func FormatCheckResults(results []CheckResult) string {
	var sb strings.Builder

	sb.WriteString("Dependencies:\n")
	for _, r := range results {
		status := "✓"
		if !r.OK {
			if r.Dependency.Required {
				status = "✗"
			} else {
				status = "○"
			}
		}

		fmt.Fprintf(&sb, "  %s %s %s", status, r.Dependency.Name, r.Dependency.Address)
		if r.OK {
			fmt.Fprintf(&sb, " (%s)", r.Latency.Round(time.Millisecond))
		} else if r.Dependency.Required {
			sb.WriteString(" [REQUIRED]")
		} else {
			sb.WriteString(" [optional]")
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
