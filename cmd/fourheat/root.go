package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/fourheat-core/internal/controller"
	"github.com/nerrad567/fourheat-core/internal/infrastructure/config"
	"github.com/nerrad567/fourheat-core/internal/infrastructure/logging"
	"github.com/nerrad567/fourheat-core/internal/pinkey"
)

const (
	// defaultConfigPath is used when neither --config nor FOURHEAT_CONFIG is set.
	defaultConfigPath = "configs/config.yaml"

	// defaultCommandTimeout covers discovery, the action and its refresh poll.
	defaultCommandTimeout = 60 * time.Second
)

// rootOptions carries the persistent flags and output streams shared by
// every subcommand.
type rootOptions struct {
	configPath string
	host       string
	logLevel   string
	timeout    time.Duration

	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}

	cmd := &cobra.Command{
		Use:   "fourheat",
		Short: "4HEAT PinKEY stove controller",
		Long: `FourHeat - monitor and control a 4HEAT pellet stove over its PinKEY
Wi-Fi module.

The stove is reached on TCP port 80. Without a configured host it is located
with a UDP broadcast probe, which also wakes the module's TCP stack.

Configuration is read from --config, then FOURHEAT_CONFIG, then
configs/config.yaml. FOURHEAT_* environment variables override file values.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", configPathFromEnv(), "Configuration file")
	cmd.PersistentFlags().StringVar(&opts.host, "host", "", "Stove address (skips discovery)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", defaultCommandTimeout, "Deadline for one-shot commands")

	cmd.AddCommand(
		newServeCmd(opts),
		newDiscoverCmd(opts),
		newStatusCmd(opts),
		newOnCmd(opts),
		newOffCmd(opts),
		newResetCmd(opts),
		newSetCmd(opts),
		newScheduleCmd(opts),
		newTokenCmd(opts),
		newHashPasswordCmd(opts),
	)
	return cmd
}

// configPathFromEnv returns FOURHEAT_CONFIG if set, otherwise the default.
func configPathFromEnv() string {
	if path := os.Getenv("FOURHEAT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig reads the configuration and applies the flag overrides.
// When optional is true a missing file yields the defaults.
func (o *rootOptions) loadConfig(optional bool) (*config.Config, error) {
	load := config.Load
	if optional {
		load = config.LoadOptional
	}
	cfg, err := load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if o.host != "" {
		cfg.Device.Host = o.host
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, nil
}

// cliLogger logs to stderr so stdout carries only command output.
func (o *rootOptions) cliLogger(cfg *config.Config) *logging.Logger {
	logCfg := cfg.Logging
	if o.logLevel == "" {
		logCfg.Level = "warn"
	}
	logCfg.Format = "text"
	return logging.NewWithWriter(logCfg, version, o.stderr)
}

// newDeviceClient builds a PinKEY client from the device and discovery
// sections.
func newDeviceClient(cfg *config.Config, log *logging.Logger) *pinkey.Client {
	return pinkey.NewClient(pinkey.Options{
		Transport: pinkey.TransportConfig{
			Host:         cfg.Device.Host,
			Port:         cfg.Device.Port,
			Timeout:      cfg.GetDeviceTimeout(),
			ConnectDelay: cfg.GetConnectDelay(),
			DebugTCP:     cfg.Device.DebugTCP,
		},
		Discovery: pinkey.DiscoveryConfig{
			BroadcastAddress: cfg.Discovery.BroadcastAddress,
			BroadcastPort:    cfg.Discovery.BroadcastPort,
			ListenPort:       cfg.Discovery.ListenPort,
			Timeout:          cfg.GetDiscoveryTimeout(),
			MaxRetries:       cfg.Discovery.Retries,
		},
		Logger: log.Component("pinkey"),
	})
}

// newController builds a poll controller around client using the polling
// and thermostat sections.
func newController(cfg *config.Config, client controller.Device, log *logging.Logger) *controller.Controller {
	return controller.New(controller.Options{
		Device:       client,
		Interval:     cfg.GetPollInterval(),
		BackoffSteps: cfg.GetBackoffSteps(),
		SuspendAfter: cfg.Polling.SuspendAfter,
		MinTemp:      cfg.Thermostat.MinTemp,
		MaxTemp:      cfg.Thermostat.MaxTemp,
		Logger:       log.Component("controller"),
	})
}
