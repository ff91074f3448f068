package cli

import (
	"github.com/spf13/cobra"

	"github.com/skypro1111/radio-recorder/internal/version"
)

const defaultConfigPath = "configs/config.yaml"

// globalFlags are shared by every subcommand
type globalFlags struct {
	configPath string
	envFiles   []string
}

// NewRootCmd builds the recorder command tree
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "recorder",
		Short: "Record radio network transmissions to WAV files",
		Long: "Connects to the configured radio networks, writes every transmission " +
			"to its own WAV file and serves the recordings over HTTP.",
		SilenceUsage: true,
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", defaultConfigPath, "path to the YAML or TOML configuration file")
	rootCmd.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", []string{".env"}, "env files loaded before the configuration")

	rootCmd.AddCommand(newRunCmd(flags))
	rootCmd.AddCommand(newListCmd(flags))

	return rootCmd
}
