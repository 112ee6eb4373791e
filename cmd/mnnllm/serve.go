package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mnnllm/internal/api"
	"github.com/samcharles93/mnnllm/internal/catalog"
	"github.com/samcharles93/mnnllm/internal/logger"
	"github.com/samcharles93/mnnllm/internal/mnn"
	"github.com/samcharles93/mnnllm/internal/webui"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		rps         float64
		burst       int64
		preload     bool
		webUI       bool
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the chat REST API",
		Flags: append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.FloatFlag{
				Name:        "rate",
				Usage:       "requests per second across all clients (0 disables)",
				Destination: &rps,
			},
			&cli.Int64Flag{
				Name:        "burst",
				Usage:       "rate limiter burst size",
				Value:       4,
				Destination: &burst,
			},
			&cli.BoolFlag{
				Name:        "preload",
				Usage:       "load the default model before serving",
				Value:       true,
				Destination: &preload,
			},
			&cli.BoolFlag{
				Name:        "webui",
				Usage:       "serve the browser chat page at /",
				Value:       true,
				Destination: &webUI,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, configFromContext(ctx), &addr, &rps, &burst)

			mod, err := openModule(backendName)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			h := mnn.New(mod, mnn.WithLogger(log))
			defer func() { _ = h.Close() }()

			cat := catalog.New(catalog.Config{
				DefaultModelPath: modelPath,
				ModelsPath:       modelsPath,
			})
			if preload && modelPath != "" {
				path, err := cat.Resolve("")
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				if err := h.Load(ctx, path); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}

			server := api.NewServer(h, cat, api.WithLogger(log))
			defer func() { _ = server.Close() }()

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			e.Use(api.RateLimit(rps, int(burst)))
			server.Register(e)
			if webUI {
				ui := webui.Handler()
				e.GET("/*", func(c *echo.Context) error {
					ui.ServeHTTP(c.Response(), c.Request())
					return nil
				})
			}

			log.Info("starting server", "address", addr, "model", h.Path())
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
