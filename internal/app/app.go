package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"respiration-qa/internal/alerting"
	"respiration-qa/internal/config"
	"respiration-qa/internal/pipeline"
	"respiration-qa/internal/scheduler"
	"respiration-qa/internal/service"
	"respiration-qa/internal/storage"
)

const (
	channelTelegram = "telegram"
	channelLog      = "log"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newPipeline(workers int) *pipeline.Pipeline {
	opts := a.Config.PipelineOptions()
	if workers > 0 {
		opts.Workers = workers
	}
	return pipeline.New(opts, a.Logger)
}

// newNotifier builds one notifier per configured channel. Unknown channels
// are logged and ignored; nil means nothing can deliver.
func (a *App) newNotifier() alerting.Notifier {
	var notifiers alerting.Multi
	for _, ch := range a.Config.Alerting.Channels {
		switch strings.ToLower(strings.TrimSpace(ch)) {
		case channelTelegram:
			cfg := a.Config.Alerting.Telegram
			if !cfg.Enabled {
				a.Logger.Warn().Msg("telegram channel selected but alerting.telegram.enabled is false")
				continue
			}
			timeout := cfg.Timeout
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, timeout, a.Logger))
		case channelLog:
			notifiers = append(notifiers, alerting.NewLogNotifier(a.Logger))
		default:
			a.Logger.Warn().Str("channel", ch).Msg("unknown alert channel ignored")
		}
	}

	switch len(notifiers) {
	case 0:
		return nil
	case 1:
		return notifiers[0]
	default:
		return notifiers
	}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

// Watch re-analyses the data root on the configured interval until SIGINT
// or SIGTERM.
func (a *App) Watch(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	var resultStore storage.ResultStore
	if store != nil {
		resultStore = store
	} else {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}

	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.Watch.Interval,
		StartupDelay:   a.Config.Watch.StartupDelay,
		RunImmediately: a.Config.Watch.RunImmediately,
	}, a.Logger)

	svc := service.New(a.Config, sched, a.newPipeline(0), nil, resultStore, a.newNotifier(), a.Logger)

	if addr := a.Config.Watch.MetricsAddr; addr != "" {
		stopMetrics := a.serveMetrics(addr)
		defer stopMetrics()
	}

	a.Logger.Info().Str("data_root", a.Config.Analysis.DataRoot).Dur("interval", a.Config.Watch.Interval).Msg("starting watch")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watch terminated with error")
		return err
	}

	a.Logger.Info().Msg("watch stopped")
	return nil
}

// serveMetrics exposes the Prometheus registry on addr until the returned
// func is called.
func (a *App) serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.Logger.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// AnalyzeOptions configure a one-off analysis pass.
type AnalyzeOptions struct {
	DataRoot string
	Workers  int
	NoStore  bool
	CSVPath  string
	PNGPath  string
}

// ExportOptions hold parameters for exporting persisted results.
type ExportOptions struct {
	DataType  string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
