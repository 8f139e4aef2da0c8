package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Pinger is anything that can report reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker is implemented by upstream clients
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// DatabaseChecker checks ledger store connectivity. A failing store makes
// the whole service unhealthy.
type DatabaseChecker struct {
	store  Pinger
	driver string
}

func NewDatabaseChecker(store Pinger, driver string) *DatabaseChecker {
	return &DatabaseChecker{store: store, driver: driver}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now().UTC(),
		Details:   map[string]interface{}{"driver": c.driver},
	}

	if c.store == nil {
		check.Status = StatusUnhealthy
		check.Message = "Database not configured"
		return check
	}

	start := time.Now()
	if err := c.store.Ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Database connection OK"
	check.Details["latency"] = time.Since(start).String()
	return check
}

// UpstreamChecker checks an upstream dependency. Failures degrade the
// service without taking it out of rotation.
type UpstreamChecker struct {
	name     string
	url      string
	upstream HealthChecker
}

func NewUpstreamChecker(name, url string, upstream HealthChecker) *UpstreamChecker {
	return &UpstreamChecker{name: name, url: url, upstream: upstream}
}

func (c *UpstreamChecker) Name() string {
	return c.name
}

func (c *UpstreamChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now().UTC(),
		Details:   make(map[string]interface{}),
	}
	if c.url != "" {
		check.Details["url"] = c.url
	}

	if c.upstream == nil {
		check.Status = StatusDegraded
		check.Message = "Not configured"
		return check
	}

	if err := c.upstream.HealthCheck(ctx); err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Unreachable: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Reachable"
	return check
}

// StorageChecker checks that the data directory is writable
type StorageChecker struct {
	dataDir string
}

func NewStorageChecker(dataDir string) *StorageChecker {
	return &StorageChecker{dataDir: dataDir}
}

func (c *StorageChecker) Name() string {
	return "storage"
}

func (c *StorageChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now().UTC(),
		Details:   map[string]interface{}{"data_dir": c.dataDir},
	}

	if c.dataDir == "" {
		check.Status = StatusDegraded
		check.Message = "Data directory not configured"
		return check
	}

	if err := os.MkdirAll(c.dataDir, 0755); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Failed to create data directory: %v", err)
		return check
	}

	probe, err := os.CreateTemp(c.dataDir, ".health-*")
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Data directory not writable: %v", err)
		return check
	}
	probe.Close()
	os.Remove(filepath.Clean(probe.Name()))

	check.Status = StatusHealthy
	check.Message = "Data directory writable"
	return check
}
