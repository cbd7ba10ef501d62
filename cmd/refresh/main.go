// refresh runs one batch refresh of every tracked username and prints the JSON summary.
// With -interval it keeps running, one batch per interval, for deployments without an external scheduler.
// With -issue-token it prints a signed trigger token for the named scheduler and exits without refreshing.
// Exit status is 1 when a one-shot run fails outright.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"growth-tracker/backend/internal/app"
	"growth-tracker/backend/internal/config"
	"growth-tracker/backend/internal/logger"
	"growth-tracker/backend/internal/security"
	"growth-tracker/backend/internal/telemetry"
	"growth-tracker/backend/internal/tracking/batch"
)

func main() {
	interval := flag.Duration("interval", 0, "Run repeatedly with this pause between runs (e.g. 24h); 0 runs once")
	issueFor := flag.String("issue-token", "", "Print a signed trigger token for this scheduler name and exit")
	tokenTTL := flag.Duration("token-ttl", 5*time.Minute, "Validity of the token printed by -issue-token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if *issueFor != "" {
		if err := issueToken(os.Stdout, cfg, *issueFor, *tokenTTL); err != nil {
			fmt.Fprintln(os.Stderr, "issue-token:", err)
			os.Exit(1)
		}
		return
	}
	log, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	code := run(cfg, log, *interval)
	_ = log.Sync()
	os.Exit(code)
}

func run(cfg *config.Config, log *zap.Logger, interval time.Duration) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Error("refresh: setup failed", zap.Error(err))
		return 1
	}
	defer func() {
		time.Sleep(telemetry.ShutdownDrainDuration)
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			log.Warn("refresh: close", zap.Error(err))
		}
	}()

	failed := false
	report := func(res *batch.Result, err error) {
		if res != nil {
			printSummary(res, err)
		}
		if err != nil {
			failed = true
			log.Error("refresh: run failed", zap.Error(err))
		}
	}
	err = a.Orchestrator.RunForever(ctx, interval, report)
	if interval > 0 && errors.Is(err, context.Canceled) {
		return 0
	}
	if failed {
		return 1
	}
	return 0
}

// issueToken writes a trigger token for subject, signed with the configured trigger secret.
func issueToken(w io.Writer, cfg *config.Config, subject string, ttl time.Duration) error {
	auth := security.NewTriggerAuth(cfg.TriggerSecret, cfg.TriggerJWTIssuer, ttl)
	token, expiresAt, err := auth.Issue(subject)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n# expires %s\n", token, expiresAt.Format(time.RFC3339))
	return err
}

func printSummary(res *batch.Result, runErr error) {
	out := struct {
		Success bool `json:"success"`
		*batch.Result
		Error string `json:"error,omitempty"`
	}{Success: runErr == nil, Result: res}
	if runErr != nil {
		out.Error = runErr.Error()
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}
