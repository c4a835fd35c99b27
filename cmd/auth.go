package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"atlasauth/internal/app"
	"atlasauth/internal/auth"
	"atlasauth/internal/cli"
	"atlasauth/internal/config"
	"atlasauth/internal/dancer"
	"atlasauth/pkg/logging"
)

// newApplication is replaced in tests.
var newApplication = app.NewApplication

// openBrowser is replaced in tests.
var openBrowser dancer.BrowserOpener = dancer.OpenBrowser

// authOptions holds the flags of the auth command group.
type authOptions struct {
	flags cli.CommandFlags
	site  siteFlags
	creds credentialFlags

	notifier *consoleNotifier
}

// siteFlags describe the site a command targets.
type siteFlags struct {
	host          string
	product       string
	protocol      string
	contextPath   string
	caCerts       []string
	pfx           string
	pfxPassphrase string
}

func (f *siteFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.host, "site", "", "Site host or URL (e.g. jira.example.com or https://example.com/jira)")
	cmd.Flags().StringVarP(&f.product, "product", "p", "", "Product: jira or bitbucket (default jira)")
}

func (f *siteFlags) registerConnection(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.protocol, "protocol", "", "Protocol of a server site: https (default) or http")
	cmd.Flags().StringVar(&f.contextPath, "context-path", "", "Context path of a server site (e.g. /jira)")
	cmd.Flags().StringArrayVar(&f.caCerts, "ca-cert", nil, "Extra CA certificate file to trust (repeatable)")
	cmd.Flags().StringVar(&f.pfx, "pfx", "", "PKCS#12 client certificate file")
	cmd.Flags().StringVar(&f.pfxPassphrase, "pfx-passphrase", "", "Passphrase of the --pfx file")
}

func (f *siteFlags) productValue() (auth.Product, error) {
	if f.product == "" {
		return auth.ProductJira, nil
	}
	product, ok := auth.ProductForKey(strings.ToLower(f.product))
	if !ok {
		return auth.Product{}, fmt.Errorf("unknown product %q (use jira or bitbucket)", f.product)
	}
	return product, nil
}

// siteInfo builds the site from the flags. Without --site the cloud site
// of env is used.
func (f *siteFlags) siteInfo(env config.Environment) (auth.SiteInfo, error) {
	product, err := f.productValue()
	if err != nil {
		return auth.SiteInfo{}, err
	}
	if f.host == "" {
		return env.CloudSite(product), nil
	}

	site := auth.SiteInfo{
		Host:               f.host,
		Product:            product,
		Protocol:           f.protocol,
		ContextPath:        f.contextPath,
		CustomSSLCertPaths: f.caCerts,
		PfxPath:            f.pfx,
		PfxPassphrase:      f.pfxPassphrase,
	}
	if strings.Contains(f.host, "://") {
		u, err := url.Parse(f.host)
		if err != nil || u.Host == "" {
			return auth.SiteInfo{}, fmt.Errorf("invalid site URL %q", f.host)
		}
		site.Host = u.Host
		if site.Protocol == "" {
			site.Protocol = u.Scheme
		}
		if site.ContextPath == "" {
			site.ContextPath = u.Path
		}
	}
	return site, nil
}

// credentialFlags are the server login credentials.
type credentialFlags struct {
	username      string
	password      string
	passwordStdin bool
	token         string
}

func (f *credentialFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.username, "username", "u", "", "Username for a server site")
	cmd.Flags().StringVar(&f.password, "password", "", "Password for --username")
	cmd.Flags().BoolVar(&f.passwordStdin, "password-stdin", false, "Read the password from stdin")
	cmd.Flags().StringVar(&f.token, "token", "", "Personal access token for a server site")
	cmd.MarkFlagsMutuallyExclusive("username", "token")
	cmd.MarkFlagsMutuallyExclusive("password", "password-stdin")
}

// authInfo returns the server credentials, or nil when none were given.
func (f *credentialFlags) authInfo(stdin io.Reader) (auth.AuthInfo, error) {
	if f.token != "" {
		return &auth.PATAuthInfo{Token: f.token}, nil
	}
	if f.username == "" {
		if f.password != "" || f.passwordStdin {
			return nil, errors.New("--password requires --username")
		}
		return nil, nil
	}

	password := f.password
	if f.passwordStdin {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return nil, errors.New("--username requires --password or --password-stdin")
	}
	return &auth.BasicAuthInfo{Username: f.username, Password: password}, nil
}

// authPrint prints output only if the --quiet flag is not set.
// Use this for progress messages and non-essential output.
func (o *authOptions) authPrint(cmd *cobra.Command, format string, args ...interface{}) {
	if !o.flags.Quiet {
		fmt.Fprintf(cmd.OutOrStdout(), format, args...)
	}
}

// openApp bootstraps the services for one command. The caller closes it.
func (o *authOptions) openApp(cmd *cobra.Command) (*app.Application, error) {
	o.notifier = &consoleNotifier{
		out:    cmd.OutOrStdout(),
		errOut: cmd.ErrOrStderr(),
		quiet:  o.flags.Quiet,
	}

	cfg := app.NewConfig(o.flags.Debug, o.flags.ConfigPath)
	cfg.Notifier = o.notifier
	cfg.Analytics = auditAnalytics{}
	cfg.BrowserOpener = func(authURL string) error {
		fmt.Fprintf(cmd.ErrOrStderr(), "\rOpening your browser. If it does not open, visit:\n  %s\n", authURL)
		if err := openBrowser(authURL); err != nil {
			logging.Warn("CLI", "Could not open browser: %v", err)
		}
		return nil
	}
	return newApplication(cfg)
}

// findSite returns the known site for --site, searching every product
// unless --product is set.
func (o *authOptions) findSite(svc *app.Services) (auth.DetailedSiteInfo, error) {
	if o.site.host == "" {
		return auth.DetailedSiteInfo{}, errors.New("--site is required")
	}
	site, err := o.site.siteInfo(svc.Settings.Environment)
	if err != nil {
		return auth.DetailedSiteInfo{}, err
	}

	products := auth.Products
	if o.site.product != "" {
		products = []auth.Product{site.Product}
	}
	for _, product := range products {
		if found, ok := svc.Sites.SiteForHostname(product, site.Host); ok {
			return found, nil
		}
	}
	return auth.DetailedSiteInfo{}, &cli.AuthRequiredError{Site: site.Host}
}

// consoleNotifier prints info messages and collects errors. Errors are
// printed only once printErrors is set; before that the command reports
// them through its returned error.
type consoleNotifier struct {
	out    io.Writer
	errOut io.Writer
	quiet  bool

	mu          sync.Mutex
	errors      []string
	printErrors bool
}

func (n *consoleNotifier) ShowInfo(message string) {
	if !n.quiet {
		fmt.Fprintln(n.out, message)
	}
}

func (n *consoleNotifier) ShowError(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, message)
	if n.printErrors {
		fmt.Fprintln(n.errOut, text.FgRed.Sprint(message))
	}
}

func (n *consoleNotifier) setPrintErrors(v bool) {
	n.mu.Lock()
	n.printErrors = v
	n.mu.Unlock()
}

func (n *consoleNotifier) lastError() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.errors) == 0 {
		return ""
	}
	return n.errors[len(n.errors)-1]
}

// auditAnalytics records authenticated events in the audit log.
type auditAnalytics struct{}

func (auditAnalytics) Authenticated(site auth.DetailedSiteInfo, isOnboarding bool, source string) {
	logging.Audit("Analytics", "authenticated",
		slog.String("product", site.Product.Key),
		slog.String("host", site.Host),
		slog.Bool("cloud", site.IsCloud),
		slog.Bool("onboarding", isOnboarding),
		slog.String("source", source),
	)
}

func newAuthCmd() *cobra.Command {
	o := &authOptions{}

	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage Jira and Bitbucket authentication",
		Long: `Manage authentication for Jira and Bitbucket sites.

Examples:
  atlasauth auth login                                  # OAuth login to Jira cloud
  atlasauth auth login -p bitbucket                     # OAuth login to Bitbucket cloud
  atlasauth auth login --site jira.example.com -u me --password-stdin
  atlasauth auth login --site git.example.com -p bitbucket --token <pat>
  atlasauth auth login-git                              # Use the token in your git remote
  atlasauth auth status                                 # Show known sites
  atlasauth auth logout --site jira.example.com`,
	}
	cli.RegisterCommonFlags(authCmd, &o.flags)

	authCmd.AddCommand(newAuthLoginCmd(o))
	authCmd.AddCommand(newAuthLoginGitCmd(o))
	authCmd.AddCommand(newAuthRemoteCmd(o))
	authCmd.AddCommand(newAuthUpdateCmd(o))
	authCmd.AddCommand(newAuthLogoutCmd(o))
	authCmd.AddCommand(newAuthStatusCmd(o))
	authCmd.AddCommand(newAuthDefaultCmd(o))
	return authCmd
}
