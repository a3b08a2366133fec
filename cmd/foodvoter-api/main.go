package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/config"
	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/server"
	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/session"
	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/store"
	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/syncgw"
	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "foodvoter-api",
		Short: "FoodVoter group restaurant voting backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().String("search-base-url", defaults.GetString("search.base_url"), "Business search provider base URL")
	cmd.PersistentFlags().String("search-api-key", "", "Business search provider API key (overrides env)")
	cmd.PersistentFlags().Float64("search-requests-per-second", defaults.GetFloat64("search.requests_per_second"), "Business search provider rate limit")
	cmd.PersistentFlags().Int("heartbeat-ttl-seconds", defaults.GetInt("presence.heartbeat_ttl_seconds"), "Presence heartbeat TTL in seconds")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "search.base_url", "search-base-url")
	bindFlag(cmd, "search.api_key", "search-api-key")
	bindFlag(cmd, "search.requests_per_second", "search-requests-per-second")
	bindFlag(cmd, "presence.heartbeat_ttl_seconds", "heartbeat-ttl-seconds")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	metrics.Register()

	db, err := store.OpenSQLite(appConfig.DatabasePath, logger, &users.User{})
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	documents, err := store.NewDocumentStore(store.DocumentStoreConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	gateway, err := syncgw.NewGateway(syncgw.GatewayConfig{
		Store:  documents,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	presence := syncgw.NewPresence(syncgw.PresenceConfig{
		HeartbeatTTL: appConfig.HeartbeatTTL,
		Logger:       logger,
		OnChange: func(userID string, online bool) {
			if err := userService.SetOnline(context.Background(), userID, online); err != nil {
				logger.Warn("failed to record presence change",
					zap.String("user_id", userID), zap.Error(err))
			}
		},
	})
	go presence.Run(signalCtx)

	sessions, err := session.NewManager(session.ManagerConfig{
		Gateway:    gateway,
		Clock:      time.Now,
		IDProvider: session.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer sessions.Shutdown()

	searchClient, err := catalog.NewClient(catalog.ClientConfig{
		BaseURL:           appConfig.SearchBaseURL,
		APIKey:            appConfig.SearchAPIKey,
		RequestsPerSecond: appConfig.SearchRequestRate,
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	businessCatalog, err := catalog.NewCatalog(catalog.CatalogConfig{
		Provider: searchClient,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "foodvoter-auth",
		Audience:      "foodvoter-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		Sessions:     sessions,
		Gateway:      gateway,
		Catalog:      businessCatalog,
		Users:        userService,
		Presence:     presence,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
