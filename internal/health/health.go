package health

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CheckFunc reports the health of one dependency.
type CheckFunc func(ctx context.Context) error

type namedCheck struct {
	name string
	fn   CheckFunc
}

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

type ComponentHealth struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Latency int64  `json:"latency_ms"`
	Error   string `json:"error,omitempty"`
}

type HealthResponse struct {
	Status     Status            `json:"status"`
	Components []ComponentHealth `json:"components,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

type Checker struct {
	redis  *redis.Client
	checks []namedCheck
}

func NewChecker(redisClient *redis.Client) *Checker {
	return &Checker{redis: redisClient}
}

// WithCheck adds a named dependency check.
func (c *Checker) WithCheck(name string, fn CheckFunc) *Checker {
	c.checks = append(c.checks, namedCheck{name: name, fn: fn})
	return c
}

func (c *Checker) CheckAll(ctx context.Context) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	components := make([]ComponentHealth, 0, len(c.checks)+1)
	mu := sync.Mutex{}

	if c.redis != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			comp := c.checkRedis(ctx)
			mu.Lock()
			components = append(components, comp)
			mu.Unlock()
		}()
	}

	for _, check := range c.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			comp := runCheck(ctx, check.name, check.fn)
			mu.Lock()
			components = append(components, comp)
			mu.Unlock()
		}()
	}

	wg.Wait()
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	status := StatusHealthy
	for _, comp := range components {
		if comp.Status == StatusUnhealthy {
			status = StatusUnhealthy
			break
		}
	}

	return HealthResponse{
		Status:     status,
		Components: components,
		Timestamp:  time.Now(),
	}
}

func (c *Checker) checkRedis(ctx context.Context) ComponentHealth {
	start := time.Now()
	err := c.redis.Ping(ctx).Err()
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return ComponentHealth{
			Name:    "redis",
			Status:  StatusUnhealthy,
			Latency: latency,
			Error:   err.Error(),
		}
	}
	return ComponentHealth{
		Name:    "redis",
		Status:  StatusHealthy,
		Latency: latency,
	}
}

func runCheck(ctx context.Context, name string, fn CheckFunc) ComponentHealth {
	start := time.Now()
	err := fn(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return ComponentHealth{
			Name:    name,
			Status:  StatusUnhealthy,
			Latency: latency,
			Error:   err.Error(),
		}
	}
	return ComponentHealth{
		Name:    name,
		Status:  StatusHealthy,
		Latency: latency,
	}
}

// DirWritable checks that files can be created in dir.
func DirWritable(dir string) CheckFunc {
	return func(ctx context.Context) error {
		f, err := os.CreateTemp(dir, ".health-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		return os.Remove(name)
	}
}

func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}
}

func ReadinessHandler(checker *Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := checker.CheckAll(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
