package main

import (
	"context"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/viper"

	"github.com/nadimpalla570/myazan-app/internal/config"
	"github.com/nadimpalla570/myazan-app/internal/httputil"
	"github.com/nadimpalla570/myazan-app/internal/jwt"
	"github.com/nadimpalla570/myazan-app/internal/log"
	"github.com/nadimpalla570/myazan-app/internal/otel"
	"github.com/nadimpalla570/myazan-app/internal/workflow"
	"github.com/nadimpalla570/myazan-app/tokensvc"
)

type Config struct {
	App  config.App      `mapstructure:"app"`
	HTTP httputil.Config `mapstructure:"http"`
	Otel otel.Config     `mapstructure:"otel"`

	Token tokensvc.Config `mapstructure:"token"`

	IdentitySecret string `mapstructure:"identity_secret"`
}

func loadConfig() (*Config, error) {
	return config.Load(&Config{}, func(v *viper.Viper) {
		v.SetDefault("identity_secret", "")

		config.Setup(v, "app")
		otel.Setup(v, "otel")
		httputil.Setup(v, "http")
		tokensvc.Setup(v, "token")

		v.SetDefault("http.addr", "0.0.0.0:8081")
		v.SetDefault("otel.service_name", "tokend")
	})
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration", err)
	}

	logger, err := log.NewLogger(cfg.App.LogConfigFile)
	if err != nil {
		log.Fatal("Failed to create logger", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	otelShutdown, err := otel.Init(ctx, &cfg.Otel, logger)
	if err != nil {
		logger.Fatal("Failed to initialize OTEL provider", log.Error(err))
	}

	logger.Info("Starting credential service",
		log.String("addr", cfg.HTTP.Addr),
		log.Duration("credentialTTL", cfg.Token.CredentialTTL))

	jwtAuth := jwt.NewAuth(cfg.IdentitySecret)
	svc := tokensvc.NewService(&cfg.Token, clockwork.NewRealClock(), logger.Module("TokenSvc"))
	router := tokensvc.NewRouter(svc, jwtAuth, logger.Module("Router"))
	server := httputil.NewServer(&cfg.HTTP, router.Handler())

	go func() {
		logger.Info("Starting HTTP server", log.String("addr", cfg.HTTP.Addr))
		if err := server.Listen(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server", log.Error(err))
		}
	}()

	logger.Info("Credential service started")

	cleanup := func(ctx context.Context) {
		_ = server.Shutdown(ctx)

		if err := otelShutdown(ctx); err != nil {
			logger.Error("Failed to shutdown OTEL", log.Error(err))
		}
	}
	workflow.WaitGracefulShutdown(ctx, logger.Module("CleanUp"), cleanup, cfg.App.ShutdownTimeout)
}
