package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pribylovaa/estate-session/internal/clients/backend"
	"github.com/pribylovaa/estate-session/internal/config"
	"github.com/pribylovaa/estate-session/internal/gate"
	webhttp "github.com/pribylovaa/estate-session/internal/http"
	"github.com/pribylovaa/estate-session/internal/http/handlers"
	"github.com/pribylovaa/estate-session/internal/metrics"
	"github.com/pribylovaa/estate-session/internal/pkg/log"
	"github.com/pribylovaa/estate-session/internal/service"
	"github.com/pribylovaa/estate-session/internal/session"
	"github.com/pribylovaa/estate-session/internal/storage"
	"github.com/pribylovaa/estate-session/internal/storage/bolt"
	"github.com/pribylovaa/estate-session/internal/storage/memory"
	"github.com/pribylovaa/estate-session/internal/storage/redis"
	"github.com/pribylovaa/estate-session/internal/storage/sealed"
	"github.com/pribylovaa/estate-session/internal/tokens"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	lg := setupLogger(cfg.Env)
	slog.SetDefault(lg)
	lg.Info("starting estate-web", "env", cfg.Env)

	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()
	rootCtx = log.Into(rootCtx, lg)

	st, err := openStorage(rootCtx, cfg.Storage)
	if err != nil {
		lg.Error("storage_init_failed", slog.String("driver", cfg.Storage.Driver), slog.String("err", err.Error()))
		os.Exit(1)
	}

	defer func() {
		if cerr := st.Close(); cerr != nil {
			lg.Warn("storage_close_failed", slog.String("err", cerr.Error()))
		}
	}()

	lg.Info("storage_initialized",
		slog.String("driver", cfg.Storage.Driver),
		slog.Bool("sealed", cfg.Storage.Secret != ""),
	)

	m := metrics.New(prometheus.DefaultRegisterer)

	var dec tokens.ExpiryDecoder = tokens.UnverifiedDecoder{}
	if cfg.Auth.JWTSecret != "" {
		dec = tokens.HMACDecoder{Secret: []byte(cfg.Auth.JWTSecret)}
	}

	store := tokens.New(st, tokens.Options{
		Decoder:        dec,
		ExpiringWindow: cfg.Session.ExpiringWindow,
	})

	be, err := backend.New(cfg.Backend, nil)
	if err != nil {
		lg.Error("backend_client_init_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}

	svc := service.New(store, be, service.Config{
		KeepTokensOnTransportError: cfg.Session.KeepTokensOnTransportError,
	})
	svc.SetMetrics(m)

	sess := session.New(store, svc, session.Options{
		RefreshInterval: cfg.Session.RefreshInterval,
		Metrics:         m,
	})

	if err := sess.Init(rootCtx); err != nil {
		lg.Error("session_init_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}

	g := gate.New(sess, svc, gate.Options{
		AdminPrefix: cfg.Session.AdminPrefix,
		HomePath:    cfg.Session.HomePath,
		Metrics:     m,
	})

	apiHandler := webhttp.NewRouter(
		handlers.New(svc, sess, cfg.Session.HomePath),
		g,
		webhttp.Options{
			Logger:      lg,
			Timeout:     cfg.Timeouts.Service,
			AdminPrefix: cfg.Session.AdminPrefix,
		},
	)

	var ready int32 // 0 — not ready; 1 — ready

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if atomic.LoadInt32(&ready) == 1 {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}

		http.Error(w, "not ready", http.StatusServiceUnavailable)
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.Handle("/", apiHandler)

	httpAddr := cfg.HTTP.Addr()
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", httpAddr)
	if err != nil {
		lg.Error("http_listen_failed", slog.String("addr", httpAddr), slog.String("err", err.Error()))
		os.Exit(1)
	}

	lg.Info("http_listen_start", slog.String("addr", httpAddr))

	serveErrCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	atomic.StoreInt32(&ready, 1)
	lg.Info("estate_web_ready", slog.Bool("authenticated", sess.IsAuthenticated()))

	select {
	case <-rootCtx.Done():
		lg.Info("shutdown_requested")
	case err := <-serveErrCh:
		if err != nil {
			lg.Error("http_serve_failed", slog.String("err", err.Error()))
		}
	}

	atomic.StoreInt32(&ready, 0)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("http_shutdown_incomplete", slog.String("err", err.Error()))
	} else {
		lg.Info("http_stopped")
	}

	// Токены и пользователь остаются в хранилище до следующего запуска.
	sess.Close()

	lg.Info("service_stopped")
}

// openStorage открывает выбранный драйвер и при заданном секрете
// оборачивает его шифрованием.
func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, error) {
	var (
		st  storage.Storage
		err error
	)

	switch cfg.Driver {
	case config.DriverBolt:
		st, err = bolt.New(cfg.BoltPath)
	case config.DriverRedis:
		st, err = redis.New(ctx, cfg.RedisURL, cfg.RedisPrefix)
	case config.DriverMemory:
		st = memory.New()
	default:
		err = fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Secret == "" {
		return st, nil
	}

	sst, err := sealed.New(st, cfg.Secret)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return sst, nil
}

func setupLogger(env string) *slog.Logger {
	switch env {
	case envLocal:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}
