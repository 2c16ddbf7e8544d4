package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/finchrf/skybridge/internal/config"
	"github.com/finchrf/skybridge/internal/daemon"
	"github.com/finchrf/skybridge/internal/logger"
)

const defaultConfig = "/etc/skybridge.yaml"

// version is stamped by the build (-ldflags "-X main.version=...").
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "skybridge <profile1[:profile2...]> <wlan1> [<wlan2> ...]",
		Short: "wireless bridge control-plane supervisor",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, _ := cmd.Flags().GetString("config")
			level, _ := cmd.Flags().GetString("log-level")

			profiles := strings.Split(args[0], ":")
			var wlans []string
			for _, arg := range args[1:] {
				wlans = append(wlans, strings.Fields(arg)...)
			}

			settings, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if err := logger.Init(level, settings.Path.LogDir, settings.Common.LogFile); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := daemon.Run(ctx, settings, profiles, wlans); err != nil && ctx.Err() == nil {
				return err
			}
			logger.Info("shut down cleanly")
			return nil
		},
	}

	root.Flags().String("config", defaultConfig, "config file path")
	root.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.SilenceUsage = true

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
