// Command incidents-bot serves the incident management chatbot webhook.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Horgix/incidents-automation-app/internal/app"
	"github.com/Horgix/incidents-automation-app/internal/config"
	"github.com/Horgix/incidents-automation-app/internal/version"
	"github.com/Horgix/incidents-automation-app/internal/webhook"
	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const (
	shutdownTimeout = 30 * time.Second
	defaultTokenTTL = 365 * 24 * time.Hour
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("incidents-bot failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath  string
		envFile     string
		showVersion bool
		issueFor    string
		tokenTTL    time.Duration
	)

	flagSet := pflag.NewFlagSet("incidents-bot", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "path to a YAML configuration file")
	flagSet.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")
	flagSet.StringVar(&issueFor, "issue-token", "", "print a webhook bearer token for this subject and exit")
	flagSet.DurationVar(&tokenTTL, "token-ttl", defaultTokenTTL, "lifetime of the token printed by --issue-token")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Println(version.Get())
		return nil
	}

	// A missing dotenv file is normal outside development.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if issueFor != "" {
		return issueToken(os.Stdout, cfg, issueFor, tokenTTL, time.Now())
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return application.Shutdown(shutdownCtx)
}

// issueToken writes a signed webhook bearer token for subject.
func issueToken(w io.Writer, cfg *config.Config, subject string, ttl time.Duration, now time.Time) error {
	auth := cfg.Webhook.Auth
	if auth.Mode != config.AuthJWT {
		return fmt.Errorf("webhook auth mode is %q, tokens need %q", auth.Mode, config.AuthJWT)
	}
	if ttl <= 0 {
		return fmt.Errorf("token ttl must be positive, got %s", ttl)
	}

	token, err := webhook.NewJWTAuthenticator(auth.JWTSecret, auth.JWTIssuer).IssueToken(subject, jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(w, token)
	return err
}
