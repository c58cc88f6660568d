package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/replywatch/replywatch/classifier"
	"github.com/replywatch/replywatch/internal/profile"
	"github.com/replywatch/replywatch/internal/version"
	"github.com/replywatch/replywatch/metrics"
	"github.com/replywatch/replywatch/plugin/telegram"
	"github.com/replywatch/replywatch/queue"
	"github.com/replywatch/replywatch/server"
	"github.com/replywatch/replywatch/sla"
	"github.com/replywatch/replywatch/store"
	"github.com/replywatch/replywatch/store/db"
)

const (
	// Quarterly survey campaign: 10:00 on the first day of each quarter.
	surveyCronSpec = "0 10 1 1,4,7,10 *"
	// Daily retention sweep during the quiet hours.
	retentionCronSpec = "0 3 * * *"
)

var rootCmd = &cobra.Command{
	Use:   "replywatch",
	Short: "SLA monitoring for accounting support chats: tracks client questions, times responder replies within working hours, and escalates breaches.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// .env is a development convenience; production deployments set real
		// environment variables.
		_ = godotenv.Load()
		return nil
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Driver:  viper.GetString("driver"),
			DSN:     viper.GetString("dsn"),
			Version: version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return run(instanceProfile)
	},
}

func run(instanceProfile *profile.Profile) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbDriver, err := db.NewDBDriver(instanceProfile)
	if err != nil {
		return fmt.Errorf("failed to create db driver: %w", err)
	}
	storeInstance := store.New(dbDriver, instanceProfile)
	defer storeInstance.Close()
	if err := storeInstance.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}

	var m *metrics.Metrics
	if instanceProfile.MetricsEnabled {
		m = metrics.New()
	}

	bot, err := telegram.NewBot(instanceProfile)
	if err != nil {
		return err
	}
	sender := telegram.NewSender(bot)

	manager := queue.NewManager(queue.Config{
		Store:       storeInstance,
		Metrics:     m,
		GraceWindow: time.Duration(instanceProfile.QueueGraceSecs) * time.Second,
	})

	resolver := sla.NewResolver(storeInstance)
	lifecycle := sla.NewLifecycle(storeInstance, m)
	timers := sla.NewTimers(storeInstance, manager, resolver, m)
	breach := sla.NewBreachWorker(storeInstance, manager, resolver, sender, m)
	surveys := sla.NewSurveys(storeInstance, manager, sender)
	retention := sla.NewRetention(storeInstance, manager)

	cls := classifier.New(&classifier.Config{
		APIKey:  instanceProfile.ClassifierAPIKey,
		Model:   instanceProfile.ClassifierModel,
		BaseURL: instanceProfile.ClassifierBaseURL,
		Timeout: instanceProfile.ClassifierTimeout,
	})
	pipeline := sla.NewPipeline(storeInstance, cls, lifecycle, timers, m)

	manager.Register(queue.QueueSLATimer, 5, 0, breach.HandleTimer)
	manager.Register(queue.QueueAlertDispatch, 3, 20, breach.HandleDispatch)
	manager.Register(queue.QueueSurvey, 5, 1, surveys.HandleSurvey)
	manager.Register(queue.QueueRetention, 1, 0, retention.HandleRetention)

	if err := manager.RegisterCron(surveyCronSpec, func() {
		if err := surveys.EnqueueCampaign(ctx); err != nil {
			slog.Error("failed to enqueue survey campaign", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to register survey cron: %w", err)
	}
	if err := manager.RegisterCron(retentionCronSpec, func() {
		if err := retention.EnqueueSweep(ctx); err != nil {
			slog.Error("failed to enqueue retention sweep", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to register retention cron: %w", err)
	}

	srv := server.NewServer(instanceProfile, storeInstance, resolver, lifecycle, m)
	poller := telegram.NewPoller(bot, pipeline)

	manager.Start(ctx)
	printGreetings(instanceProfile)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(gctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := poller.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, terminationSignals...)
		defer signal.Stop(sig)
		select {
		case s := <-sig:
			slog.Info("shutdown signal received", "signal", s)
			cancel()
		case <-gctx.Done():
		}
		srv.Shutdown(context.Background())
		manager.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("fatal runtime error", "error", err)
		return err
	}
	slog.Info("replywatch stopped")
	return nil
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 28080)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28080, "port of server")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (postgres, sqlite)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka DSN)")

	for _, flag := range []string{"mode", "addr", "port", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("replywatch")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("replywatch %s started\n", profile.Version)
	fmt.Printf("Mode: %s\n", profile.Mode)
	fmt.Printf("Database driver: %s\n", profile.Driver)
	if profile.IsDev() && profile.DSN != "" {
		fmt.Fprintf(os.Stderr, "Database: %s\n", profile.DSN)
	}
	if len(profile.Addr) == 0 {
		fmt.Printf("Admin API on port %d\n", profile.Port)
	} else {
		fmt.Printf("Admin API on %s:%d\n", profile.Addr, profile.Port)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("boot failed", "error", err)
		os.Exit(1)
	}
}
