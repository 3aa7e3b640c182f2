package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

const checkTimeout = 3 * time.Second

// Pinger is a dependency whose reachability decides readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Checker reports liveness and dependency readiness.
type Checker struct {
	checks    map[string]Pinger
	startTime time.Time
}

func NewChecker() *Checker {
	return &Checker{checks: make(map[string]Pinger), startTime: time.Now()}
}

// Register adds a named dependency check.
func (c *Checker) Register(name string, p Pinger) {
	c.checks[name] = p
}

type healthStatus struct {
	Status string                  `json:"status"`
	Uptime string                  `json:"uptime"`
	Checks map[string]*checkResult `json:"checks,omitempty"`
}

type checkResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Live answers as long as the process serves requests.
func (c *Checker) Live(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, healthStatus{Status: "healthy", Uptime: c.uptime()})
}

// Ready pings every registered dependency.
func (c *Checker) Ready(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{Status: "healthy", Uptime: c.uptime(), Checks: make(map[string]*checkResult)}

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		start := time.Now()
		err := c.checks[name].Ping(ctx)
		cancel()
		if err != nil {
			status.Status = "unhealthy"
			status.Checks[name] = &checkResult{Status: "unhealthy", Message: err.Error()}
			continue
		}
		status.Checks[name] = &checkResult{Status: "healthy", Latency: time.Since(start).String()}
	}

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeStatus(w, code, status)
}

func (c *Checker) uptime() string {
	return time.Since(c.startTime).Round(time.Second).String()
}

func writeStatus(w http.ResponseWriter, code int, status healthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
