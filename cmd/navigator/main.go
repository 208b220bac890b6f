package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ashaai/navigator/internal/filestore"
	"github.com/ashaai/navigator/internal/profile"
	"github.com/ashaai/navigator/plugin/docnorm"
	"github.com/ashaai/navigator/plugin/inference"
	"github.com/ashaai/navigator/server"
	"github.com/ashaai/navigator/server/report"
	"github.com/ashaai/navigator/store"
	"github.com/ashaai/navigator/store/db"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "navigator",
	Short: "A document analysis session service for medical reports",
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Data:    viper.GetString("data"),
			Driver:  viper.GetString("driver"),
			DSN:     viper.GetString("dsn"),
			Version: version,
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			slog.Error("invalid configuration", slog.String("error", err.Error()))
			os.Exit(1)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			slog.Error("failed to create database driver", slog.String("error", err.Error()))
			os.Exit(1)
		}

		storeInstance := store.New(dbDriver, instanceProfile)
		if err := storeInstance.Migrate(ctx); err != nil {
			slog.Error("failed to migrate database", slog.String("error", err.Error()))
			os.Exit(1)
		}

		files, err := filestore.New(instanceProfile.Data)
		if err != nil {
			slog.Error("failed to prepare file store", slog.String("error", err.Error()))
			os.Exit(1)
		}

		if !instanceProfile.IsAIConfigured() {
			slog.Error("no inference API key configured, set NAVIGATOR_AI_API_KEY")
			os.Exit(1)
		}
		engine, err := inference.NewOpenAIEngine(&inference.Config{
			BaseURL:           instanceProfile.AIBaseURL,
			APIKey:            instanceProfile.AIAPIKey,
			VisionModel:       instanceProfile.AIVisionModel,
			MaxTokens:         instanceProfile.AIMaxTokens,
			RequestsPerMinute: instanceProfile.AIRequestsPerMinute,
		}, slog.Default())
		if err != nil {
			slog.Error("failed to create inference engine", slog.String("error", err.Error()))
			os.Exit(1)
		}

		controller := report.NewController(
			storeInstance,
			files,
			docnorm.New(files, slog.Default()),
			engine,
			&report.Options{Workers: instanceProfile.AnalysisWorkers},
		)

		s, err := server.NewServer(ctx, instanceProfile, storeInstance, controller)
		if err != nil {
			slog.Error("failed to create server", slog.String("error", err.Error()))
			os.Exit(1)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			sig := <-sigCh
			slog.Info("received signal, shutting down", slog.String("signal", sig.String()))
			s.Shutdown(ctx)
			cancel()
		}()

		printGreeting(instanceProfile)
		if err := s.Start(ctx); err != nil {
			slog.Error("failed to start server", slog.String("error", err.Error()))
			cancel()
		}

		<-ctx.Done()
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("addr", "")
	viper.SetDefault("port", 8081)
	viper.SetDefault("data", ".")

	rootCmd.PersistentFlags().String("mode", "dev", `mode of the server, can be "prod" or "dev"`)
	rootCmd.PersistentFlags().String("addr", "", "binding address for the server")
	rootCmd.PersistentFlags().Int("port", 8081, "binding port for the server")
	rootCmd.PersistentFlags().String("data", ".", "data directory for the database and document copies")
	rootCmd.PersistentFlags().String("driver", "sqlite", `database driver, can be "sqlite" or "postgres"`)
	rootCmd.PersistentFlags().String("dsn", "", "database connection string")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("navigator")
	viper.AutomaticEnv()
}

func printGreeting(p *profile.Profile) {
	fmt.Printf(`navigator %s
mode:   %s
driver: %s
data:   %s
addr:   %s:%d
`, p.Version, p.Mode, p.Driver, p.Data, p.Addr, p.Port)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("failed to execute command", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
