package cli

import (
	"github.com/spf13/cobra"

	"atlasauth/internal/config"
)

// CommandFlags holds the flag values shared by the auth commands.
type CommandFlags struct {
	// OutputFormat specifies the listing format (table, plain, json, yaml)
	OutputFormat string
	// NoHeaders suppresses the header row in table output
	NoHeaders bool
	// Quiet suppresses progress indicators and non-essential output
	Quiet bool
	// Debug enables debug logging
	Debug bool
	// ConfigPath specifies a custom configuration directory path
	ConfigPath string
}

// RegisterCommonFlags registers the persistent flags of the auth command
// group:
//   - --output/-o: Output format (table, plain, json, yaml), default: "table"
//   - --no-headers: Suppress header row in table output
//   - --quiet/-q: Suppress non-essential output
//   - --debug: Enable debug logging
//   - --config-path: Configuration directory
func RegisterCommonFlags(cmd *cobra.Command, flags *CommandFlags) {
	defaultPath, _ := config.GetDefaultConfigPath()

	cmd.PersistentFlags().StringVarP(&flags.OutputFormat, "output", "o", string(OutputFormatTable), "Output format (table, plain, json, yaml)")
	cmd.PersistentFlags().BoolVar(&flags.NoHeaders, "no-headers", false, "Suppress header row in table output")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Suppress non-essential output")
	cmd.PersistentFlags().BoolVar(&flags.Debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config-path", defaultPath, "Configuration directory")
}

// Format returns the validated output format.
func (f *CommandFlags) Format() (OutputFormat, error) {
	return ParseOutputFormat(f.OutputFormat)
}
