package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"den/internal/logging"
	"den/pkg/config"
)

type recordFlags struct {
	port           int
	ssl            bool
	token          string
	connectTimeout time.Duration
	readTimeout    time.Duration
	logFile        string
	logLevel       string
	sinks          []string
	precision      string
	metricsAddr    string
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "den",
		Short:         "Den is a home for your Nest thermostat data",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newRecordCmd(), newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the den version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "den", version)
		},
	}
}

func newRecordCmd() *cobra.Command {
	var flags recordFlags

	cmd := &cobra.Command{
		Use:   "record [database]",
		Short: "Record thermostat data into the database",
		Long: `Streams live structure and thermostat state from the Nest API and
writes every snapshot to the configured sinks. Network failures are retried
with exponential backoff until the process is interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			applyFlags(cmd, cfg, &flags, args)

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger, closer, err := logging.New(logging.Config{
				Level:  cfg.LogLevel,
				Format: cfg.LogFormat,
				File:   cfg.LogFile,
			})
			if err != nil {
				return fmt.Errorf("failed to configure logging: %w", err)
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := record(ctx, cfg, logger); err != nil {
				logger.Error("den stopped", "error", err)
				return err
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&flags.port, "port", 8086, "InfluxDB port")
	f.BoolVar(&flags.ssl, "ssl", false, "use HTTPS for InfluxDB")
	f.StringVar(&flags.token, "token", "", "Nest API access token (default $DEN_ACCESS_TOKEN)")
	f.DurationVar(&flags.connectTimeout, "connect-timeout", 7*time.Second, "stream connect timeout")
	f.DurationVar(&flags.readTimeout, "read-timeout", 601*time.Second, "stream read timeout")
	f.StringVar(&flags.logFile, "log-file", "", "also write logs to this file")
	f.StringVar(&flags.logLevel, "log-level", "debug", "log level (debug, info, warn, error, critical)")
	f.StringSliceVar(&flags.sinks, "sinks", nil, "sinks to write to (influxdb, clickhouse, mqtt)")
	f.StringVar(&flags.precision, "precision", "s", "write precision (s, ms, us, ns, h)")
	f.StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

// applyFlags overrides the environment configuration with flags the user
// set explicitly
func applyFlags(cmd *cobra.Command, cfg *config.Config, flags *recordFlags, args []string) {
	if len(args) > 0 {
		cfg.InfluxDatabase = args[0]
	}

	changed := cmd.Flags().Changed
	if changed("port") {
		cfg.InfluxPort = flags.port
	}
	if changed("ssl") {
		cfg.InfluxSSL = flags.ssl
	}
	if changed("token") {
		cfg.AccessToken = flags.token
	}
	if changed("connect-timeout") {
		cfg.ConnectTimeout = flags.connectTimeout
	}
	if changed("read-timeout") {
		cfg.ReadTimeout = flags.readTimeout
	}
	if changed("log-file") {
		cfg.LogFile = flags.logFile
	}
	if changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if changed("sinks") {
		cfg.Sinks = flags.sinks
	}
	if changed("precision") {
		cfg.Precision = flags.precision
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = flags.metricsAddr
	}
}
