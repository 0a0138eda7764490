package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/anstrom/farmscan/internal/config"
)

var configForce bool

// configCmd groups configuration file commands.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file with default values",
	Long: `Write every setting with its default value to a YAML file. The file
is written to the given path, or to --config, or to ./config.yaml.`,
	Example: `  farmscan config init
  farmscan config init /etc/farmscan/config.yaml --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := getConfigFilePath()
		if len(args) == 1 {
			path = args[0]
		}
		return writeDefaultConfig(cmd.OutOrStdout(), path, configForce)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
}

// writeDefaultConfig saves the default configuration to path. An existing
// file is only replaced when force is set.
func writeDefaultConfig(out io.Writer, path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file %s already exists, use --force to overwrite", path)
	}

	if err := config.Default().Save(path); err != nil {
		return err
	}

	fmt.Fprintf(out, "Wrote default configuration to %s\n", path)
	return nil
}
