package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voice-telephony/internal/audit"
	"voice-telephony/internal/auth"
	"voice-telephony/internal/calls"
	"voice-telephony/internal/config"
	"voice-telephony/internal/delivery"
	"voice-telephony/internal/httpapi"
	"voice-telephony/internal/notify"
	"voice-telephony/internal/recording"
	"voice-telephony/internal/report"
	"voice-telephony/internal/session"
	"voice-telephony/internal/tasks"
	"voice-telephony/internal/telemetry"
	"voice-telephony/internal/telephony"
	"voice-telephony/internal/tools"
	"voice-telephony/pkg/logger"
	"voice-telephony/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const outboundSlotsKey = "voice-telephony:outbound-slots"

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// .env.local is optional; real environment variables win.
	_ = godotenv.Load(".env.local")

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTracer := telemetry.Noop
	if cfg.Tracing.Enabled {
		shutdownTracer, err = telemetry.InitTracer(cfg.Tracing.ServiceName, log)
		if err != nil {
			log.Error("tracer init failed", "err", err)
			os.Exit(1)
		}
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	group := tasks.New(cfg.Tasks.Limit, log)

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	var slots tools.Slots
	if cfg.SIP.OutboundCallLimit > 0 {
		slots = &utils.CallSlots{Client: rdb, Key: outboundSlotsKey, Limit: cfg.SIP.OutboundCallLimit}
	}

	lk := telephony.NewClients(telephony.ServerConfig{
		URL:       cfg.LiveKit.URL,
		APIKey:    cfg.LiveKit.APIKey,
		APISecret: cfg.LiveKit.APISecret,
	})

	httpClient := delivery.NewClient(delivery.ClientConfig{Logger: log})
	policy := delivery.DefaultPolicy()
	policy.Logger = log
	sender := delivery.Sender{Client: httpClient, Policy: policy}

	var sinks []notify.Sink
	if cfg.Webhooks.CallURL != "" {
		sinks = append(sinks, &notify.WebhookSink{URL: cfg.Webhooks.CallURL, Client: httpClient})
	}
	if rdb != nil {
		sinks = append(sinks, &notify.RedisSink{Client: rdb, Channel: cfg.Redis.Channel})
	}
	if slots != nil {
		sinks = append(sinks, &tools.SlotReleaser{Slots: slots})
	}
	notifier := notify.New(group, log, sinks...)

	registry := calls.NewRegistry(calls.Config{
		InboundTrunkID:  cfg.SIP.InboundTrunkID,
		OutboundTrunkID: cfg.SIP.OutboundTrunkID,
	}, &telephony.SIPProvisioner{SIP: lk.SIP, Rooms: lk.Rooms}, notifier, log)

	rooms := &telephony.RoomService{
		API:             lk.Rooms,
		Log:             log,
		EmptyTimeout:    telephony.DefaultRoomEmptyTimeout,
		MaxParticipants: telephony.DefaultRoomMaxParticipants,
	}

	tracker := &session.Tracker{
		Reporter: &report.Reporter{
			URL:     cfg.Webhooks.EndCallURL,
			Builder: report.Builder{Log: log},
			Gate:    report.Gate{MinDuration: cfg.Session.MinReportDuration},
			Sender:  sender,
			Log:     log,
		},
		RoomSID: rooms.RoomSID,
		Calls:   registry,
		Tasks:   group,
		Log:     log,
	}
	if cfg.Recording.Enabled {
		recCfg := recordingConfig(cfg.Recording)
		tracker.NewRecorder = func(room string) session.Recorder {
			return recording.NewManager(recCfg, lk.Egress, room, log)
		}
	}

	inbound := &telephony.InboundService{
		Calls:      registry,
		Rooms:      rooms,
		RoomPrefix: cfg.Session.RoomPrefix,
		Log:        log,
		// Open the session as soon as the caller is in the room so recording
		// starts before the agent joins.
		OnConnected: func(ctx context.Context, res telephony.InboundCallResult) {
			if _, err := tracker.Start(ctx, session.StartRequest{RoomName: res.RoomName, CallID: res.CallID}); err != nil {
				log.Warn("session start for inbound call failed", "call_id", res.CallID, "err", err)
			}
		},
	}

	auditLog := audit.NewMemoryRepo(audit.DefaultMemoryCapacity)
	auditRepos := []audit.Repository{auditLog}
	if rdb != nil {
		auditRepos = append(auditRepos, &audit.RedisRepo{Client: rdb, Stream: cfg.Redis.AuditStream})
	}

	handlers := httpapi.Handlers{
		Audit:    audit.NewService(log, auditRepos...),
		AuditLog: auditLog,
		Auth:     authManager,
		Calls:    registry,
		Tools: &tools.TelephonyTools{
			Calls: registry,
			Rooms: rooms,
			Slots: slots,
			Log:   log,
		},
		Appointments: &tools.AppointmentTools{
			URL:     cfg.Webhooks.AppointmentURL,
			Sender:  sender,
			Log:     log,
			ToolLog: tracker.Tools,
		},
		Sessions: tracker,
	}
	webhooks := telephony.WebhookHandler{Inbound: inbound, Calls: registry, Tasks: group}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log, "/healthz"))

	registerRoutes(r, handlers, webhooks, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           otelhttp.NewHandler(r, cfg.Tracing.ServiceName),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	registry.Cleanup(shutdownCtx)
	closed := tracker.CloseAll(shutdownCtx)
	log.Info("sessions closed", "count", closed)

	if err := group.Shutdown(shutdownCtx); err != nil {
		log.Error("background tasks did not finish", "err", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error("tracer shutdown failed", "err", err)
	}
}

func recordingConfig(c config.RecordingConfig) recording.Config {
	return recording.Config{
		Enabled:          c.Enabled,
		UseHLS:           c.UseHLS,
		FilePath:         c.FilePath,
		BaseURL:          c.BaseURL,
		SegmentDuration:  uint32(c.SegmentDuration),
		PlaylistName:     c.PlaylistName,
		LivePlaylistName: c.LivePlaylistName,
		S3: recording.S3Config{
			Bucket:         c.S3Bucket,
			AccessKey:      c.S3AccessKey,
			SecretKey:      c.S3SecretKey,
			Region:         c.S3Region,
			Endpoint:       c.S3Endpoint,
			ForcePathStyle: c.S3ForcePathStyle,
		},
	}
}
