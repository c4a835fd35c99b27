package cmd

import (
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"atlasauth/internal/auth"
	"atlasauth/internal/cli"
	"atlasauth/internal/login"
	"atlasauth/pkg/logging"
)

const loginSource = "cli"

// stateMessages are the spinner messages per login state.
var stateMessages = map[login.LoginState]string{
	login.StateDancingOAuth:        "Waiting for browser authorization...",
	login.StateFetchingUserProfile: "Fetching user profile...",
	login.StateResourceEnrichment:  "Resolving sites...",
	login.StatePersisting:          "Saving credentials...",
}

func newAuthLoginCmd(o *authOptions) *cobra.Command {
	var (
		callback   string
		onboarding bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to a Jira or Bitbucket site",
		Long: `Log in to a Jira or Bitbucket site.

Without credentials the OAuth flow runs in your browser and every cloud
site the grant gives access to is saved. With --username or --token the
site is treated as a server or Data Center site.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := o.creds.authInfo(cmd.InOrStdin())
			if err != nil {
				return err
			}

			application, err := o.openApp(cmd)
			if err != nil {
				return err
			}
			defer application.Close()
			svc := application.Services()

			site, err := o.site.siteInfo(svc.Settings.Environment)
			if err != nil {
				return err
			}
			opts := login.LoginOptions{IsOnboarding: onboarding, Source: loginSource}
			ctx := cmd.Context()

			if info != nil {
				if o.site.host == "" {
					return errors.New("--site is required for a server login")
				}
				progress := cli.StartProgress(cmd.ErrOrStderr(), o.flags.Quiet, fmt.Sprintf("Authenticating with %s...", site.Host))
				details, err := svc.Login.UserInitiatedServerLogin(ctx, site, info, opts)
				if err != nil {
					progress.Fail("Authentication failed")
					return cli.WrapLoginError(site.Host, err)
				}
				progress.Success(fmt.Sprintf("Authenticated with %s as %s", details.BaseLinkURL, details.UserID))
				return nil
			}

			progress := cli.StartProgress(cmd.ErrOrStderr(), o.flags.Quiet, "Starting OAuth login...")
			svc.Login.SetStateChangeCallback(func(_ login.Attempt, _, newState login.LoginState) {
				if msg, ok := stateMessages[newState]; ok {
					progress.Update(msg)
				}
			})

			if err := svc.Login.UserInitiatedOAuthLogin(ctx, site, callback, opts); err != nil {
				progress.Fail("Authentication failed")
				logAttempt(svc.Login)
				return cli.WrapLoginError(site.Host, err)
			}

			sites := svc.Sites.SitesAvailable(site.Product)
			progress.Success(fmt.Sprintf("Authenticated with %s", site.Product.Name))
			for _, s := range sites {
				if s.IsCloud {
					o.authPrint(cmd, "  %s (%s)\n", s.Name, s.BaseLinkURL)
				}
			}
			return nil
		},
	}

	o.site.register(cmd)
	o.site.registerConnection(cmd)
	o.creds.register(cmd)
	cmd.Flags().StringVar(&callback, "callback", "", "URL the browser is sent to after a successful OAuth login")
	cmd.Flags().BoolVar(&onboarding, "onboarding", false, "Mark the login as part of onboarding")
	return cmd
}

// logAttempt writes the state history of the last attempt at debug level.
func logAttempt(m *login.Manager) {
	a, ok := m.LastAttempt()
	if !ok {
		return
	}
	states := make([]string, len(a.History))
	for i, s := range a.History {
		states[i] = string(s)
	}
	logging.Debug("CLI", "Login attempt %d (%s, %s): %s", a.ID, a.Kind, a.Host, strings.Join(states, " -> "))
}

func newAuthLoginGitCmd(o *authOptions) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "login-git",
		Short: "Log in to Bitbucket cloud with the token in your git configuration",
		Long: `Log in to Bitbucket cloud with an x-token-auth access token found in the
git remotes of the current repository or in ~/.git-credentials.

With --watch the command keeps running and re-validates the token every
two hours until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := o.openApp(cmd)
			if err != nil {
				return err
			}
			defer application.Close()
			svc := application.Services()

			ok, err := svc.Login.AuthenticateWithBitbucketToken(cmd.Context(), false)
			if err != nil {
				return cli.WrapLoginError(auth.ProductBitbucket.Name, err)
			}
			if !ok {
				msg := o.notifier.lastError()
				if msg == "" {
					msg = "no Bitbucket token found"
				}
				return errors.New(msg)
			}
			o.authPrint(cmd, "%s\n", "Authenticated with Bitbucket using the git token")

			if !watch {
				return nil
			}
			o.notifier.setPrintErrors(true)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			o.authPrint(cmd, "Refreshing every 2 hours; press Ctrl+C to stop.\n")
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep running and refresh the token periodically")
	return cmd
}

func newAuthRemoteCmd(o *authOptions) *cobra.Command {
	remoteCmd := &cobra.Command{
		Use:   "remote",
		Short: "Run the Jira OAuth flow in two steps, for machines without a browser",
		Long: `Run the Jira OAuth flow in two steps.

'remote init' prints the authorization URL; open it on any machine. After
approving, pass the code and state from the redirect to 'remote finish'.`,
	}

	var initState string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Print the authorization URL of a remote login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := o.openApp(cmd)
			if err != nil {
				return err
			}
			defer application.Close()

			authURL, state, err := application.Services().Login.InitRemoteAuth(cmd.Context(), initState)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "URL:   %s\nState: %s\n", authURL, state)
			return nil
		},
	}
	initCmd.Flags().StringVar(&initState, "state", "", "State to use instead of a generated one")

	var code, state string
	finishCmd := &cobra.Command{
		Use:   "finish",
		Short: "Complete a remote login with the code from the redirect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := o.openApp(cmd)
			if err != nil {
				return err
			}
			defer application.Close()

			sites, err := application.Services().Login.FinishRemoteAuth(cmd.Context(), code, state)
			if err != nil {
				return cli.WrapLoginError(auth.ProductJira.Name, err)
			}
			o.authPrint(cmd, "Authenticated with %d Jira site(s)\n", len(sites))
			for _, s := range sites {
				o.authPrint(cmd, "  %s (%s)\n", s.Name, s.BaseLinkURL)
			}
			return nil
		},
	}
	finishCmd.Flags().StringVar(&code, "code", "", "Authorization code")
	finishCmd.Flags().StringVar(&state, "state", "", "State printed by 'remote init'")
	_ = finishCmd.MarkFlagRequired("code")
	_ = finishCmd.MarkFlagRequired("state")

	remoteCmd.AddCommand(initCmd, finishCmd)
	return remoteCmd
}

func newAuthUpdateCmd(o *authOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Replace the credentials of a server site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := o.creds.authInfo(cmd.InOrStdin())
			if err != nil {
				return err
			}
			if info == nil {
				return errors.New("--username or --token is required")
			}

			application, err := o.openApp(cmd)
			if err != nil {
				return err
			}
			defer application.Close()
			svc := application.Services()

			existing, err := o.findSite(svc)
			if err != nil {
				return err
			}
			site := existing.AsSiteInfo()
			if u := existing.BaseLinkURL; strings.HasPrefix(u, "http://") {
				site.Protocol = "http"
			}

			details, err := svc.Login.UpdateInfo(cmd.Context(), site, info)
			if err != nil {
				return cli.WrapLoginError(site.Host, err)
			}
			o.authPrint(cmd, "Updated credentials for %s\n", details.BaseLinkURL)
			return nil
		},
	}
	o.site.register(cmd)
	o.creds.register(cmd)
	return cmd
}
