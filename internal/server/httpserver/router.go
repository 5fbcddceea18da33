package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/yndnr/meshstore/internal/server/httpserver/handler"
)

// RouterConfig configures the admin router.
type RouterConfig struct {
	Handler handler.Config

	// Metrics serves /metrics. Nil disables the endpoint.
	Metrics http.Handler

	// AdminAllowList restricts /admin/v1 to these IPs and CIDR prefixes.
	// Empty allows everyone.
	AdminAllowList []string

	// AdminRateLimit is the per-client request rate on /admin/v1. Zero
	// disables limiting.
	AdminRateLimit float64
	AdminBurst     int

	Logger *slog.Logger
}

// DefaultRouterConfig returns a router config limiting admin calls to
// 5 per second per client.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		AdminRateLimit: 5,
		AdminBurst:     10,
	}
}

// NewRouter builds the admin HTTP handler.
//
// Probes and /metrics only get request IDs and panic recovery. Admin
// routes also pass the network ACL and the rate limiter, and are logged.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Handler.Logger = cfg.Logger
	h := handler.New(cfg.Handler)

	base := []Middleware{RequestID(), Recover(cfg.Logger)}
	probes := Chain(h, base...)

	admin := append(base[:len(base):len(base)], AccessLog(cfg.Logger), NetworkACL(cfg.AdminAllowList, cfg.Logger))
	if cfg.AdminRateLimit > 0 {
		admin = append(admin, RateLimit(cfg.AdminRateLimit, cfg.AdminBurst))
	}
	adminHandler := Chain(h, admin...)

	mux := http.NewServeMux()
	mux.Handle("GET /healthz", probes)
	mux.Handle("GET /readyz", probes)
	mux.Handle("GET /restore/pending", probes)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", Chain(cfg.Metrics, base...))
	}
	mux.Handle("/admin/v1/", adminHandler)
	return mux
}
