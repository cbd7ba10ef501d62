// track starts tracking the usernames given as arguments by running one on-demand refresh for each.
// Usernames that are already tracked simply get a new snapshot.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"growth-tracker/backend/internal/app"
	"growth-tracker/backend/internal/config"
	"growth-tracker/backend/internal/failure"
	"growth-tracker/backend/internal/logger"
	"growth-tracker/backend/internal/telemetry"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: track <username> [username...]")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal("track: setup failed", zap.Error(err))
	}

	failed := 0
	for _, username := range flag.Args() {
		res, err := a.Service.Refresh(ctx, username)
		if err != nil {
			failed++
			log.Error("track: refresh failed",
				zap.String("username", username),
				zap.String("kind", string(failure.KindOf(err))),
				zap.Error(err),
			)
			continue
		}
		if !res.Persisted {
			failed++
			log.Error("track: snapshot not stored", zap.String("username", res.Username), zap.String("error", res.StorageError))
			continue
		}
		fmt.Printf("%s\tfollowers=%d following=%d media=%d new=%t\n",
			res.Username, res.Metrics.FollowerCount, res.Metrics.FollowingCount, res.Metrics.MediaCount, res.IsNewUser)
	}

	time.Sleep(telemetry.ShutdownDrainDuration)
	closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		log.Warn("track: close", zap.Error(err))
	}
	_ = log.Sync()
	if failed > 0 {
		os.Exit(1)
	}
}
