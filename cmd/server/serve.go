package main

import (
	"github.com/gorilla/mux"
	"github.com/pulserank/apicache/internal/cache"
	"github.com/pulserank/apicache/internal/handlers"
	httpserver "github.com/pulserank/apicache/internal/http"
	"github.com/spf13/cobra"
)

func newServeCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			go cache.NewPurger(rt.logger, a.store, rt.cfg.CacheCleanupInterval).Start(ctx)

			limiter := handlers.NewRateLimiter(rt.cfg.RateLimit, rt.cfg.RateLimitWindow)
			go limiter.Run(ctx)

			r := mux.NewRouter()
			r.Use(handlers.LoggingMiddleware(rt.logger))
			r.Use(limiter.Middleware)
			handlers.RegisterRoutes(r,
				handlers.NewAdminHandler(rt.logger, a.store, a.query),
				handlers.NewSEOHandler(rt.logger, a.majestic, a.dataforseo, a.semrush),
				a.registry,
			)

			return httpserver.Run(ctx, rt.logger, rt.cfg, r)
		},
	}
}
