package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opspilot/opspilot/internal/profile"
	"github.com/opspilot/opspilot/internal/version"
)

// releaseBaseline is the first released version line.
const releaseBaseline = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "opspilot",
	Short: `An AI-powered Kubernetes incident response assistant. Ask what broke, get a root cause.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load .env from the working directory when present.
		_ = godotenv.Load()
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Version: version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "invalid configuration: %s\n", err)
			os.Exit(1)
		}

		// A prod binary reporting less than the first release line was built
		// without ldflags stamping.
		if !instanceProfile.IsDev() && !version.IsVersionGreaterOrEqualThan(version.Version, releaseBaseline) {
			slog.Warn("running an unstamped build in prod mode",
				"version", version.Version, "baseline", releaseBaseline)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := buildServer(instanceProfile)
		if err != nil {
			slog.Error("failed to build server", "error", err)
			os.Exit(1)
		}

		c := make(chan os.Signal, 1)
		// SIGTERM is the graceful shutdown signal under Kubernetes.
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-c
			slog.Info("shutdown signal received")
			cancel()
		}()

		printGreetings(instanceProfile)

		if err := s.Start(ctx); err != nil {
			slog.Error("server exited with error", "error", err)
			os.Exit(1)
		}
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("port", 28090)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28090, "port of server")

	for _, flag := range []string{"mode", "addr", "port"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("opspilot")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("OpsPilot %s started successfully!\n", p.Version)
	fmt.Printf("Mode: %s\n", p.Mode)
	if p.IsDemo() {
		fmt.Println("Demo mode: mock cluster data, scripted reasoning, no external systems required")
	}
	if len(p.Addr) == 0 {
		fmt.Printf("Chat endpoint: ws://localhost:%d/ws\n", p.Port)
	} else {
		fmt.Printf("Chat endpoint: ws://%s:%d/ws\n", p.Addr, p.Port)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
