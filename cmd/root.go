package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"atlasauth/internal/cli"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates a site has no usable credentials.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates a login attempt failed.
	ExitCodeAuthFailed = 3
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "atlasauth",
		Short: "Authenticate to Jira and Bitbucket sites",
		Long: `atlasauth logs you in to Jira and Bitbucket, cloud or server, and keeps
the list of known sites together with their credentials.

Cloud sites use OAuth in the browser; server and Data Center sites use a
username and password or a personal access token.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newVersionCmd())
	root.AddCommand(newAuthCmd())
	return root
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the root command and exits with a code derived from the error.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "atlasauth version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	var authRequired *cli.AuthRequiredError
	if errors.As(err, &authRequired) {
		return ExitCodeAuthRequired
	}

	var authExpired *cli.AuthExpiredError
	if errors.As(err, &authExpired) {
		return ExitCodeAuthRequired
	}

	var authFailed *cli.AuthFailedError
	if errors.As(err, &authFailed) {
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}
