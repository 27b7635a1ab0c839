package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"xdao.co/labeler/archive"
	"xdao.co/labeler/archive/localfs"
	"xdao.co/labeler/distributor"
	"xdao.co/labeler/grpclabels"
	"xdao.co/labeler/internal/config"
	"xdao.co/labeler/internal/logging"
	"xdao.co/labeler/internal/ratelimit"
	"xdao.co/labeler/internal/server"
	"xdao.co/labeler/keys"
	"xdao.co/labeler/label"
	"xdao.co/labeler/labeler"
	"xdao.co/labeler/resolution"
	"xdao.co/labeler/review"
	"xdao.co/labeler/store"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the labeler HTTP (and optional gRPC) server",
	Long: `Serves the ATProto label endpoints, label emission and the review API.

Without database_url, labeler_did and labeler_signing_key the server still
starts and answers /health, but every labeler route reports that the
labeler is not configured.`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("host", "", "HTTP listen host")
	f.Int("port", 0, "HTTP listen port")
	f.String("grpc-listen", "", "gRPC listen address (empty disables gRPC)")
	f.String("log-level", "", "debug, info, warn or error")
	f.String("log-format", "", "text or json")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logging.Init(level, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Run(ctx)
}

// app is one wired labeler process.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	store   store.Store
	feed    *distributor.Distributor
	svc     *labeler.Service
	handler http.Handler
	grpc    *grpc.Server
	archive archive.Archive
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, log: logging.New("labelerd")}

	if cfg.DatabaseURL != "" {
		st, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		a.store = st
		a.log.Info("store opened", slog.String("dsn", store.Redact(cfg.DatabaseURL)))
	}

	var signer labeler.Signer
	var signingKey string
	if cfg.LabelerDID != "" && cfg.LabelerSigningKey != "" {
		alg, err := keys.ParseAlgorithm(cfg.SigningAlg)
		if err != nil {
			a.Close()
			return nil, err
		}
		s, k, err := label.NewSignerFromHex(cfg.LabelerDID, alg, cfg.LabelerSigningKey)
		if err != nil {
			a.Close()
			return nil, err
		}
		signer = s
		signingKey = k.Public().String()
	}

	var backlog distributor.Backlog
	if a.store != nil {
		backlog = a.store
	}
	a.feed = distributor.New(backlog, distributor.Options{
		Buffer: cfg.FeedBuffer,
		Page:   cfg.BackfillPage,
		Logger: logging.New("distributor"),
	})

	var st store.Store
	if signer != nil {
		st = a.store
	}
	a.svc = labeler.New(signer, st, labeler.Options{
		Feed:         a.feed,
		Logger:       logging.New("labeler"),
		DefaultValue: cfg.LabelValue,
	})
	if !a.svc.Enabled() {
		a.log.Warn("labeler disabled: database_url, labeler_did and labeler_signing_key are all required")
	} else {
		a.log.Info("labeler enabled", slog.String("issuer", a.svc.Issuer()), slog.String("signing_key", signingKey))
	}

	var (
		engine *resolution.Engine
		coord  *review.Coordinator
	)
	if a.store != nil {
		engine = resolution.New(a.store)
		coord = review.New(a.svc, a.store, engine, review.Options{Logger: logging.New("review")})
	}

	// HTTP and gRPC reads share one budget per client.
	var limiter *ratelimit.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst, ratelimit.DefaultIdle)
	}

	a.handler = server.New(a.svc, engine, coord, a.feed, server.Options{
		AuthToken:      cfg.AuthToken,
		SigningKey:     signingKey,
		Limiter:        limiter,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Logger:         logging.New("http"),
	}).Handler()

	if cfg.ArchiveDir != "" && a.store != nil {
		arch, err := localfs.New(cfg.ArchiveDir)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open archive: %w", err)
		}
		a.archive = arch
	}

	if cfg.GRPCListen != "" {
		a.grpc = grpc.NewServer(
			grpc.ChainUnaryInterceptor(grpclabels.UnaryRateLimit(limiter)),
			grpc.ChainStreamInterceptor(grpclabels.StreamRateLimit(limiter)),
		)
		grpclabels.RegisterLabelsServer(a.grpc, &grpclabels.Server{
			Service:   a.svc,
			Feed:      a.feed,
			AuthToken: cfg.AuthToken,
			Logger:    logging.New("grpc"),
		})
	}
	return a, nil
}

// Run serves until ctx ends or a listener fails.
func (a *app) Run(ctx context.Context) error {
	var lis net.Listener
	if a.grpc != nil {
		var err error
		if lis, err = net.Listen("tcp", a.cfg.GRPCListen); err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	// Subscriptions hold hijacked connections that Shutdown does not close.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	g.Go(func() error {
		a.log.Info("http listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	if lis != nil {
		g.Go(func() error {
			a.log.Info("grpc listening", slog.String("addr", lis.Addr().String()))
			if err := a.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc: %w", err)
			}
			return nil
		})
	}

	if a.archive != nil {
		g.Go(func() error {
			return archive.Mirror(gctx, a.feed, a.archive, 0, logging.New("archive"))
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down")
		cancelBase()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if a.grpc != nil {
			a.grpc.Stop()
		}
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (a *app) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}
