package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/nags45/scalops/internal/auth"
	"github.com/nags45/scalops/internal/awscloud"
	"github.com/nags45/scalops/internal/config"
	"github.com/nags45/scalops/internal/database"
	"github.com/nags45/scalops/internal/link"
	"github.com/nags45/scalops/internal/logging"
	"github.com/nags45/scalops/internal/server"
	"github.com/nags45/scalops/internal/users"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "scalops-api",
		Short: "Scalops identity and AWS account-linking service",
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
	cmd.PersistentFlags().Int("token-ttl-hours", defaults.GetInt("token.ttl_hours"), "Session token TTL in hours")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session token signing secret (overrides env)")
	cmd.PersistentFlags().String("google-client-id", defaults.GetString("google.client_id"), "Google OAuth client ID")
	cmd.PersistentFlags().String("google-jwks-url", defaults.GetString("google.jwks_url"), "Google JWKS URL")
	cmd.PersistentFlags().String("client-origin", defaults.GetString("client.origin"), "Browser client origin for CORS and callback redirects")
	cmd.PersistentFlags().String("aws-region", defaults.GetString("aws.region"), "AWS region for credential validation")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_hours", "token-ttl-hours")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "google.jwks_url", "google-jwks-url")
	bindFlag(cmd, "client.origin", "client-origin")
	bindFlag(cmd, "aws.region", "aws-region")
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

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := users.NewStore(users.StoreConfig{Database: db})
	if err != nil {
		return err
	}

	tokenCodec, err := auth.NewTokenCodec(auth.TokenCodecConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "scalops-auth",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	validator, err := awscloud.NewValidator(awscloud.ValidatorConfig{
		Region: appConfig.AWSRegion,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	linker, err := link.NewOrchestrator(link.OrchestratorConfig{
		Validator: validator,
		Store:     store,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	deps := server.Dependencies{
		Store:        store,
		Tokens:       tokenCodec,
		Linker:       linker,
		Validator:    validator,
		Logger:       logger,
		ClientOrigin: appConfig.ClientOrigin,
	}

	if appConfig.GoogleClientID != "" {
		googleVerifier, err := auth.NewGoogleVerifier(auth.GoogleVerifierConfig{
			Audience: appConfig.GoogleClientID,
			JWKSURL:  appConfig.GoogleJWKSURL,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		deps.GoogleVerifier = googleVerifier
	} else {
		logger.Warn("google.client_id not set; federated sign-in disabled")
	}

	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
