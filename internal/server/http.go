// Package server assembles the admin HTTP transport.
package server

import (
	"FuseGate/internal/conf"
	"FuseGate/internal/server/middleware"
	"FuseGate/internal/service"
	pkglog "FuseGate/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewHTTPServer)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, svc *service.ResilienceService, logger log.Logger) *http.Server {
	logHelper := pkglog.NewLogHelper(logger)

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logHelper),
		),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout != nil {
		opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
	}
	srv := http.NewServer(opts...)

	registerRoutes(srv, svc)

	return srv
}

func registerRoutes(srv *http.Server, svc *service.ResilienceService) {
	r := srv.Route("/")

	r.GET("/healthz", func(ctx http.Context) error {
		return ctx.Result(200, svc.Health(ctx))
	})

	r.GET("/admin/circuits", func(ctx http.Context) error {
		return ctx.Result(200, svc.ListCircuits(ctx))
	})

	r.GET("/admin/circuits/{service}", func(ctx http.Context) error {
		metrics, err := svc.GetCircuit(ctx, ctx.Vars().Get("service"))
		if err != nil {
			return err
		}
		return ctx.Result(200, metrics)
	})

	r.POST("/admin/circuits/reset", func(ctx http.Context) error {
		return ctx.Result(200, svc.ResetAllCircuits(ctx))
	})

	r.POST("/admin/circuits/{service}/reset", func(ctx http.Context) error {
		metrics, err := svc.ResetCircuit(ctx, ctx.Vars().Get("service"))
		if err != nil {
			return err
		}
		return ctx.Result(200, metrics)
	})

	r.GET("/admin/ratelimits", func(ctx http.Context) error {
		return ctx.Result(200, svc.LimiterMetrics(ctx))
	})

	r.GET("/admin/ratelimits/{action}/{identifier}", func(ctx http.Context) error {
		return ctx.Result(200, svc.RateLimitStatus(ctx, ctx.Vars().Get("action"), ctx.Vars().Get("identifier")))
	})

	r.DELETE("/admin/ratelimits/{action}/{identifier}", func(ctx http.Context) error {
		if err := svc.ClearRateLimit(ctx, ctx.Vars().Get("action"), ctx.Vars().Get("identifier")); err != nil {
			return err
		}
		return ctx.Result(204, nil)
	})
}
