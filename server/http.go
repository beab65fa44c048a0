package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"meeting-bot/config"
	"meeting-bot/constant"
	"meeting-bot/entities"
	jobHandler "meeting-bot/handler"
	"meeting-bot/pkg/browser"
	"meeting-bot/pkg/rabbitmq"
	"meeting-bot/pkg/storage"
	"meeting-bot/repository"
	"meeting-bot/service"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	var store service.ObjectStore
	if cfg.Storage != nil && cfg.MinIOBucket != "" {
		minioStore := storage.NewMinioStore(cfg.Storage, cfg.MinIOBucket, cfg.Export.UploadTries)
		if err := minioStore.EnsureBucket(ctx); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("object storage unavailable, artifacts will be kept locally")
		} else {
			store = minioStore
		}
	}

	index, err := newArtifactIndex(cfg)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("postgres index unavailable, falling back to json index")
		index = repository.NewJSONIndex(cfg.Export.IndexPath)
	}

	var notifier service.Notifier
	var publisher *rabbitmq.Publisher
	if cfg.Queue != nil {
		publisher, err = rabbitmq.NewPublisher(cfg.Queue)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("NewPublisher")
		} else {
			notifier = publisher
		}
	}

	exporter := service.NewExporter(cfg.Export, store, index, notifier)
	joiner := browser.NewJoiner(cfg.Browser, cfg.Recording, cfg.Bot.DisplayName)

	var newRecorder service.RecorderFactory
	if cfg.Recording.Enabled {
		newRecorder = func(m *entities.Meeting, surface service.CaptureSurface) service.MediaRecorder {
			return service.NewRecorder(cfg.Recording, m, surface)
		}
	}
	var newTracker service.TrackerFactory
	if cfg.Speaking.Enabled {
		newTracker = func(m *entities.Meeting, probe service.SpeakingProbe) service.SpeakerTracker {
			return service.NewSpeakingTracker(cfg.Speaking, probe, m.Platform)
		}
	}

	sessions := service.NewSessionManager(ctx, cfg.Bot, joiner, exporter, newRecorder, newTracker)
	invites := service.NewQueuePoller()
	scheduler := service.NewScheduler(cfg.Scheduler, invites, sessions)
	bot := service.NewBot(cfg.Bot, scheduler, sessions)
	bot.Start(ctx)

	if cfg.Queue != nil {
		startConsumers(ctx, cfg, jobHandler.ServiceDependencies{Bot: bot, Invites: invites})
	}

	r := gin.Default()
	addHealth(r)
	addRoutes(ctx, r, bot)
	addArtifactRoutes(ctx, r, index)

	handler := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), cfg.Bot.CleanupTimeout)
	defer done()
	if err := handler.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}
	if err := bot.Stop(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("sessions did not finish cleanup")
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to close publisher")
		}
	}
	if err := joiner.Close(); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to close browser")
	}

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

func newArtifactIndex(cfg *config.Config) (repository.ArtifactIndex, error) {
	if constant.IndexBackend(cfg.Export.IndexBackend) == constant.IndexBackendPostgres && cfg.DB != nil {
		return repository.NewRepo(cfg.DB)
	}
	return repository.NewJSONIndex(cfg.Export.IndexPath), nil
}

func startConsumers(ctx context.Context, cfg *config.Config, deps jobHandler.ServiceDependencies) {
	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("NewRabbitMQConn")
		return
	}

	consume := func(name string, c rabbitmq.Consumer[jobHandler.ServiceDependencies]) {
		go func() {
			if err := c.Consume(ctx, deps); err != nil && !errors.Is(err, context.Canceled) {
				zerolog.Ctx(ctx).Error().Err(err).Str("consumer", name).Msg("consumer error")
			}
		}()
	}
	consume("join_requests", newConsumer(conn, cfg, rabbitmq.JoinRequestBinding, jobHandler.JoinRequestHandler))
	consume("meeting_invites", newConsumer(conn, cfg, rabbitmq.MeetingInviteBinding, jobHandler.MeetingInviteHandler))
}

func newConsumer(
	conn *amqp.Connection,
	cfg *config.Config,
	binding rabbitmq.Binding,
	handler func(ctx context.Context, msg amqp.Delivery, deps jobHandler.ServiceDependencies) error,
) rabbitmq.Consumer[jobHandler.ServiceDependencies] {
	return rabbitmq.NewConsumer(conn, cfg.Queue, binding, cfg.Server.Workers, handler)
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger.WithContext(context.Background())
}
