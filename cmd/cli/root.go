// Package cli provides command-line interface commands for farmscan.
// This package implements the Cobra-based CLI with commands for running the
// scan API server and for one-shot printer discovery scans.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anstrom/farmscan/internal/api/handlers"
	"github.com/anstrom/farmscan/internal/config"
	"github.com/anstrom/farmscan/internal/logging"
)

const (
	envPrefix         = "FARMSCAN"
	defaultConfigFile = "config.yaml"
)

var (
	cfgFile string
	verbose bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "farmscan",
	Short: "Printer farm discovery scanner",
	Long: `farmscan finds Moonraker based 3D printers on a local network.

It probes address ranges concurrently, identifies Moonraker controllers
(optionally only those of one vendor, such as Snapmaker) and reports each
printer's model, name, serial number, firmware version and network
interfaces. Run it as an HTTP service with live progress, or as a one-shot
scan from the terminal.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// initConfig points viper at the config file and environment.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in current directory
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// FARMSCAN_API_PORT overrides api.port and so on.
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// getConfigFilePath returns the config file viper resolved, or the default
// name when none was found.
func getConfigFilePath() string {
	if path := viper.ConfigFileUsed(); path != "" {
		return path
	}
	return defaultConfigFile
}

// bindFlags binds command flags to config keys. Binding happens per run
// since several commands share keys.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// loadConfig loads the config file and layers flag and environment
// overrides on top. The result is validated.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}

	applyOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	initLogging(cfg)
	return cfg, nil
}

// applyOverrides copies every explicitly set flag or environment value
// into cfg.
func applyOverrides(cfg *config.Config) {
	if viper.IsSet("api.listen_addr") {
		cfg.API.ListenAddr = viper.GetString("api.listen_addr")
	}
	if viper.IsSet("api.port") {
		cfg.API.Port = viper.GetInt("api.port")
	}
	if viper.IsSet("scanning.concurrency") {
		cfg.Scanning.Concurrency = viper.GetInt("scanning.concurrency")
	}
	if viper.IsSet("scanning.timeout") {
		cfg.Scanning.Timeout = viper.GetDuration("scanning.timeout")
	}
	if viper.IsSet("scanning.probe_port") {
		cfg.Scanning.ProbePort = viper.GetInt("scanning.probe_port")
	}
	if viper.IsSet("scanning.vendor_prefix") {
		cfg.Scanning.VendorPrefix = viper.GetString("scanning.vendor_prefix")
	}
	if viper.IsSet("scanning.max_addresses") {
		cfg.Scanning.MaxAddresses = viper.GetInt("scanning.max_addresses")
	}
	if viper.IsSet("discovery.mdns.enabled") {
		cfg.Discovery.MDNS.Enabled = viper.GetBool("discovery.mdns.enabled")
	}
	if viper.IsSet("logging.level") {
		cfg.Logging.Level = logging.LogLevel(viper.GetString("logging.level"))
	}
	if viper.IsSet("logging.format") {
		cfg.Logging.Format = logging.LogFormat(viper.GetString("logging.format"))
	}
	if verbose {
		cfg.Logging.Level = logging.LevelDebug
	}
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
	handlers.SetBuildInfo(v, c, bt)
}

// initLogging initializes structured logging based on configuration.
func initLogging(cfg *config.Config) {
	logConfig := cfg.Logging
	logConfig.AddSource = logConfig.AddSource || logConfig.Level == logging.LevelDebug

	logger, err := logging.New(logConfig)
	if err != nil {
		// Fall back to default if creation fails
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}

	logging.SetDefault(logger)

	if verbose {
		logging.Info("Structured logging initialized",
			"level", logConfig.Level,
			"format", logConfig.Format)
	}
}
