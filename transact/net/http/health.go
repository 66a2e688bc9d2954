package http

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Health report states.
const (
	StatusAvailable = "available"
	StatusDegraded  = "degraded"
)

// DependencyCheck names one probe of the health report.
type DependencyCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// DependencyStatus is one entry of the health report.
type DependencyStatus struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status       string                      `json:"status"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// HealthWithDependencies probes every check concurrently, each bounded by
// timeout. It answers 200 "available" when all succeed and 503 "degraded"
// otherwise. Probe errors are not echoed to callers.
func HealthWithDependencies(timeout time.Duration, checks ...DependencyCheck) fiber.Handler {
	if timeout <= 0 {
		timeout = defaultHealthTimeout
	}

	return func(c *fiber.Ctx) error {
		if len(checks) == 0 {
			return Respond(c, fiber.StatusOK, HealthResponse{Status: StatusAvailable})
		}

		ctx := c.UserContext()
		results := make([]DependencyStatus, len(checks))

		var wg sync.WaitGroup

		for i, check := range checks {
			wg.Add(1)

			go func() {
				defer wg.Done()

				results[i] = probe(ctx, timeout, check)
			}()
		}

		wg.Wait()

		resp := HealthResponse{
			Status:       StatusAvailable,
			Dependencies: make(map[string]DependencyStatus, len(checks)),
		}

		for i, check := range checks {
			resp.Dependencies[check.Name] = results[i]

			if !results[i].Healthy {
				resp.Status = StatusDegraded
			}
		}

		if resp.Status != StatusAvailable {
			return Respond(c, fiber.StatusServiceUnavailable, resp)
		}

		return Respond(c, fiber.StatusOK, resp)
	}
}

func probe(parent context.Context, timeout time.Duration, check DependencyCheck) DependencyStatus {
	if check.Ping == nil {
		return DependencyStatus{Healthy: false, Error: "no probe configured"}
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	if err := check.Ping(ctx); err != nil {
		if ctx.Err() != nil {
			return DependencyStatus{Healthy: false, Error: "timeout"}
		}

		return DependencyStatus{Healthy: false, Error: "unavailable"}
	}

	return DependencyStatus{Healthy: true}
}
