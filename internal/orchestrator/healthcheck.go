package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/KimHG1995/db-migration-checker/internal/driver"
)

// HealthCheckTimeout bounds the check of each side.
const HealthCheckTimeout = 30 * time.Second

// SideHealth is the result of checking one side.
type SideHealth struct {
	Connected  bool   `json:"connected"`
	LatencyMs  int64  `json:"latency_ms"`
	TableCount int    `json:"table_count"`
	Error      string `json:"error,omitempty"`
}

// HealthCheckResult reports whether both sides answer catalog queries.
type HealthCheckResult struct {
	Timestamp   string     `json:"timestamp"`
	Healthy     bool       `json:"healthy"`
	Source      SideHealth `json:"source"`
	Destination SideHealth `json:"destination"`
}

// HealthCheck lists tables on both sides in parallel, each with its own
// timeout, so a slow side cannot exhaust the other's budget. A nil
// database is reported with openErr.
func HealthCheck(ctx context.Context, src, dst driver.Database, srcOpenErr, dstOpenErr error) *HealthCheckResult {
	result := &HealthCheckResult{Timestamp: time.Now().UTC().Format(time.RFC3339)}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		result.Source = checkSide(ctx, src, srcOpenErr)
	}()
	go func() {
		defer wg.Done()
		result.Destination = checkSide(ctx, dst, dstOpenErr)
	}()
	wg.Wait()

	result.Healthy = result.Source.Connected && result.Destination.Connected
	return result
}

func checkSide(ctx context.Context, db driver.Database, openErr error) SideHealth {
	var h SideHealth
	if openErr != nil {
		h.Error = openErr.Error()
		return h
	}
	if db == nil {
		h.Error = "not configured"
		return h
	}

	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	tables, err := db.ListTables(checkCtx)
	h.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		h.Error = err.Error()
		return h
	}
	h.Connected = true
	h.TableCount = len(tables)
	return h
}
