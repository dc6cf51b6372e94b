package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStatus is a snapshot of the registry connection pool, reported by the
// readiness endpoint so operators can see pool pressure alongside
// reachability.
type PoolStatus struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	MaxConns      int32 `json:"max_conns"`
	EmptyAcquires int64 `json:"empty_acquire_count"`
}

// Saturated reports whether every pool connection is checked out; allocation
// and conclude traffic will queue behind a saturated pool.
func (s PoolStatus) Saturated() bool {
	return s.MaxConns > 0 && s.AcquiredConns >= s.MaxConns
}

func snapshotPool(pool *pgxpool.Pool) PoolStatus {
	stat := pool.Stat()
	return PoolStatus{
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
		MaxConns:      stat.MaxConns(),
		EmptyAcquires: stat.EmptyAcquireCount(),
	}
}

// HealthHandler answers the database readiness check: a ping with a
// five-second budget, plus the pool snapshot and round-trip latency.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		start := time.Now()
		err := pool.Ping(ctx)
		latency := time.Since(start)
		status := snapshotPool(pool)

		if err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
				"pool":   status,
			})
		}

		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "healthy",
			"latency":   latency.String(),
			"saturated": status.Saturated(),
			"pool":      status,
		})
	}
}
