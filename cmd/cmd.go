package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whereabouts-backend/internal/config"
	"whereabouts-backend/internal/dispatch"
	"whereabouts-backend/internal/handlers"
	"whereabouts-backend/internal/metrics"
	"whereabouts-backend/internal/middleware"
	"whereabouts-backend/internal/repository"
	"whereabouts-backend/internal/services"
	"whereabouts-backend/internal/storage"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Execute runs the command line
func Execute() {
	if err := RootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// RootCommand creates and returns the root command. Without a
// subcommand the server is started.
func RootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "whereabouts",
		Short:        "Whereabouts presence tracking backend",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the configuration file")

	serveCmd := serveCommand(&configPath)
	rootCmd.RunE = serveCmd.RunE
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())

	rootCmd.AddCommand(
		serveCmd,
		migrateCommand(&configPath),
		tokenCommand(&configPath),
	)

	return rootCmd
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	setupLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	return cfg, nil
}

func connectDB(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	db, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Info().Msg("Database connection established")
	return db, nil
}

func serveCommand(configPath *string) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *configPath, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply database migrations before starting")

	return cmd
}

func serve(ctx context.Context, configPath string, migrate bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	db, err := connectDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if migrate {
		if err := repository.Migrate(ctx, db); err != nil {
			return err
		}
		log.Info().Msg("Database migrations applied")
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		if m, err = metrics.New(); err != nil {
			return err
		}
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	locationRepo := repository.NewLocationRepository(db)
	statusRepo := repository.NewStatusRepository(db)
	clientRepo := repository.NewClientRepository(db)
	tagRepo := repository.NewTagRepository(db)

	// Registration policy
	initial, err := services.ParseRegistrationStatus(cfg.Registration.Status)
	if err != nil {
		return err
	}
	var registration services.MutableRegistrationPolicy = services.NewMemoryRegistrationPolicy(initial)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unreachable, using configured registration status until it is")
		}
		registration = services.NewRedisRegistrationPolicy(rdb, initial)
	}

	// Event sinks
	hub := dispatch.NewHub(m)
	sinks := []dispatch.Sink{dispatch.LogSink{}, hub}

	if cfg.AMQP.URL != "" {
		amqpSink, err := dispatch.NewAMQPSink(cfg.AMQP.URL, cfg.AMQP.Queue)
		if err != nil {
			return err
		}
		defer amqpSink.Close()
		sinks = append(sinks, amqpSink)
	}

	if cfg.MQTT.Broker != "" {
		mqttSink, err := dispatch.ConnectMQTT(dispatch.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
		})
		if err != nil {
			return err
		}
		defer mqttSink.Close()
		sinks = append(sinks, mqttSink)
	}

	fanout := dispatch.NewFanout(m, sinks...)

	var sounds handlers.SoundURLs
	if cfg.AWS.S3Bucket != "" {
		soundStore, err := storage.NewSoundStore(ctx, storage.SoundConfig{
			Region:          cfg.AWS.Region,
			Bucket:          cfg.AWS.S3Bucket,
			Prefix:          cfg.AWS.S3Prefix,
			Endpoint:        cfg.AWS.Endpoint,
			AccessKeyID:     cfg.AWS.AccessKey,
			SecretAccessKey: cfg.AWS.SecretKey,
			URLExpiry:       cfg.AWS.URLExpiry,
		})
		if err != nil {
			return err
		}
		sounds = soundStore
	}

	// Initialize services
	authService := services.NewAuthService(cfg.JWT.Secret)
	userService := services.NewUserService(userRepo)
	locationService := services.NewLocationService(locationRepo)
	statusService := services.NewStatusService(statusRepo)
	clientService := services.NewClientService(clientRepo)
	tagService := services.NewTagService(tagRepo)

	router := newRouter(routerDeps{
		apiTokens: cfg.API.Tokens,
		auth:      authService,
		metrics:   m,
		api: handlers.NewAPIHandler(handlers.APIHandlerDeps{
			Users:        userService,
			Locations:    locationService,
			Statuses:     statusService,
			Clients:      clientService,
			Tags:         tagService,
			Registration: registration,
			Sounds:       sounds,
			Dispatcher:   fanout,
			Metrics:      m,
		}),
		admin:  handlers.NewAdminHandler(userService, locationService, statusService, clientService, tagService, registration, fanout),
		live:   handlers.NewLiveHandler(hub, authService),
		health: handlers.NewHealthHandler(db),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		fanout.Close()
		return fmt.Errorf("server failed to start: %w", err)
	}

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// deliver what is still queued before the sinks are closed
	fanout.Close()

	log.Info().Msg("Server exited")
	return nil
}

type routerDeps struct {
	apiTokens []string
	auth      middleware.TokenValidator
	metrics   *metrics.Metrics
	api       *handlers.APIHandler
	admin     *handlers.AdminHandler
	live      *handlers.LiveHandler
	health    *handlers.HealthHandler
}

func newRouter(deps routerDeps) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(deps.metrics))
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	// Routes
	r.Route("/api/v1/whereabouts", func(r chi.Router) {
		r.Use(middleware.APITokenMiddleware(deps.apiTokens))
		deps.api.Routes(r)
	})

	r.Route("/api/v1/admin/whereabouts", func(r chi.Router) {
		// the token is passed as query parameter
		r.Get("/live", deps.live.HandleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(deps.auth))
			deps.admin.Routes(r)
		})
	})

	r.Get("/healthz", deps.health.Healthz)
	if deps.metrics != nil {
		r.Handle("/metrics", deps.metrics.Handler())
	}

	return r
}

// setupLogger configures zerolog logger
func setupLogger(level, format string, out io.Writer) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if format == "json" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: out})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Whereabouts-Client-Token")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
