package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/resqzone/server/docs"
	"github.com/resqzone/server/internal/alert"
	"github.com/resqzone/server/internal/config"
	"github.com/resqzone/server/internal/database"
	"github.com/resqzone/server/internal/group"
	"github.com/resqzone/server/internal/logger"
	"github.com/resqzone/server/internal/notification"
	"github.com/resqzone/server/internal/user"
	mw "github.com/resqzone/server/pkg/middleware"
)

//go:generate swag init -g cmd/api/main.go -o docs -d ../../

// @title        ResQZone API
// @version      1.0
// @description  Proximity groups and emergency alert fanout.
// @BasePath     /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	cfg := config.Load()
	log := logger.New(cfg)
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}

	db, err := database.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	log.Info("Connected to database successfully")

	if cfg.RunMigrations {
		if err := database.Migrate(db); err != nil {
			log.WithError(err).Fatal("Failed to run migrations")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Realtime push: local hub, optionally relayed through Redis across instances
	hub := notification.NewHub(log)
	go hub.Run(ctx)

	sinks := []notification.Sink{hub}
	if cfg.RedisAddr != "" {
		rdb, err := notification.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to redis")
		}
		defer rdb.Close()

		relay := notification.NewRedisRelay(rdb, cfg.RedisChannel, hub, log)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("Redis relay stopped")
			}
		}()
		sinks = []notification.Sink{relay}
	}
	if cfg.MQTTBrokerURL != "" {
		sink, client, err := notification.NewMQTTSink(notification.MQTTConfig{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			QoS:         byte(cfg.MQTTQoS),
		})
		if err != nil {
			log.WithError(err).Warn("MQTT bridge disabled")
		} else {
			defer client.Disconnect(250)
			sinks = append(sinks, sink)
		}
	}
	dispatcher := notification.NewDispatcher(log, sinks...)

	// Alert feature
	userRepo := user.NewRepository(db)
	alertService := alert.NewService(alert.NewRepository(db), userRepo, dispatcher, alert.Options{
		Concurrency: cfg.FanoutConcurrency,
		Retries:     cfg.FanoutRetries,
	}, log.WithField("component", "alert"))
	alertHandler := alert.NewHandler(alertService)

	// Group feature
	groupService := group.NewService(group.NewRepository(db), alertService, dispatcher, group.Options{
		DefaultRadiusKm: cfg.DefaultGroupRadiusKm,
		CreateLock:      cfg.GroupCreateLock,
	}, log.WithField("component", "group"))
	groupHandler := group.NewHandler(groupService)

	// User feature
	userService := user.NewService(userRepo, groupService, log.WithField("component", "user"))
	userHandler := user.NewHandler(userService)

	auth := mw.NewAuthenticator(cfg.JWTSecret)
	authenticate := auth.Middleware
	identify := func(r *http.Request) (int64, bool) {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		claims, err := auth.Parse(token)
		if err != nil {
			return 0, false
		}
		return claims.UserID, true
	}
	if cfg.DevAuth {
		log.Warn("DEV_AUTH enabled: requests are trusted to name their own user")
		authenticate = mw.TestUserMiddleware
		identify = func(r *http.Request) (int64, bool) {
			id, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
			return id, err == nil && id > 0
		}
	}

	wsHandler := notification.NewHandler(hub, identify, notification.MembershipAuthorizer{Members: groupService}, log.WithField("component", "ws"))

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
	r.Handle("/ws", wsHandler)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authenticate)
		r.Use(mw.Logger(log))

		r.Mount("/users", userHandler.Routes())
		r.Mount("/groups", groupHandler.Routes())
		r.Mount("/alerts", alertHandler.Routes())
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Graceful shutdown failed")
		}
	}()

	log.WithField("port", cfg.Port).Info("Server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("Server failed to start")
	}
	log.Info("Server stopped")
}
