package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rpcbridge/discovery"
	"rpcbridge/greeter"
	"rpcbridge/metrics"
	"rpcbridge/middleware"
	"rpcbridge/server"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge server with the greeter service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func newBridge(reg prometheus.Registerer) (*server.Server, error) {
	srv := server.NewServer(
		server.WithLogger(logger.Named("server")),
		server.WithMetrics(metrics.NewServer(reg)),
		server.WithPingInterval(cfg.Server.PingInterval),
		server.WithHeartbeat(cfg.Server.Heartbeat),
		server.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
	)
	srv.Use(middleware.Logging(logger.Named("rpc")))
	if cfg.Server.RateLimit > 0 {
		srv.Use(middleware.RateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst))
	}
	srv.Use(middleware.Timeout(cfg.Server.UnaryTimeout, cfg.Server.StreamTimeout))

	if err := srv.RegisterName("", greeter.New(logger.Named("greeter"), cfg.Server.StreamInterval)); err != nil {
		return nil, err
	}
	return srv, nil
}

func serve(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv, err := newBridge(reg)
	if err != nil {
		return err
	}

	var etcd *discovery.EtcdRegistry
	if len(cfg.Etcd.Endpoints) > 0 && len(cfg.Server.Advertise) > 0 {
		if etcd, err = discovery.NewEtcdRegistry(cfg.Etcd.Endpoints, logger); err != nil {
			return err
		}
	}

	var lis net.Listener
	if cfg.Server.TCPAddr != "" {
		if lis, err = net.Listen("tcp", cfg.Server.TCPAddr); err != nil {
			if etcd != nil {
				err = multierr.Append(err, etcd.Close())
			}
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	var httpServers []*http.Server

	if lis != nil {
		g.Go(func() error {
			if err := srv.Serve(lis); !errors.Is(err, server.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	if cfg.Server.HTTPAddr != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Server.Path, srv)
		hs := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: mux}
		httpServers = append(httpServers, hs)
		g.Go(func() error {
			logger.Info("serving websocket", zap.String("addr", hs.Addr), zap.String("path", cfg.Server.Path))
			if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		ms := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		httpServers = append(httpServers, ms)
		g.Go(func() error {
			logger.Info("serving metrics", zap.String("addr", ms.Addr))
			if err := ms.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	if etcd != nil {
		g.Go(func() error {
			for _, ep := range cfg.Server.Advertise {
				inst := discovery.Instance{Endpoint: ep, Weight: 1, Version: version}
				if err := srv.Announce(ctx, etcd, cfg.Etcd.Name, inst, cfg.Etcd.TTL); err != nil {
					return err
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		err := srv.Shutdown(cfg.Server.ShutdownGrace)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
		defer cancel()
		for _, hs := range httpServers {
			err = multierr.Append(err, hs.Shutdown(shutdownCtx))
		}
		if etcd != nil {
			err = multierr.Append(err, etcd.Close())
		}
		return err
	})

	return g.Wait()
}
