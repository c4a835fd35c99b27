package cmd

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"atlasauth/internal/app"
	"atlasauth/internal/auth"
	"atlasauth/internal/cli"
)

func newAuthStatusCmd(o *authOptions) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show known sites and the state of their credentials",
		Long: `Show known sites and the state of their credentials.

With --site only that site is shown. With --check the command exits with
code 2 if a shown site has missing or invalid credentials.

Examples:
  atlasauth auth status
  atlasauth auth status -o json
  atlasauth auth status --site jira.example.com --check`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := o.flags.Format()
			if err != nil {
				return err
			}

			application, err := o.openApp(cmd)
			if err != nil {
				return err
			}
			defer application.Close()
			svc := application.Services()

			var sites []auth.DetailedSiteInfo
			if o.site.host != "" {
				site, err := o.findSite(svc)
				if err != nil {
					return err
				}
				sites = []auth.DetailedSiteInfo{site}
			} else {
				for _, product := range auth.Products {
					sites = append(sites, svc.Sites.SitesAvailable(product)...)
				}
			}

			statuses, err := siteStatuses(cmd.Context(), svc, sites, time.Now())
			if err != nil {
				return err
			}
			if err := cli.WriteSiteStatuses(cmd.OutOrStdout(), format, o.flags.NoHeaders, statuses); err != nil {
				return err
			}

			if check {
				for _, s := range statuses {
					switch s.Credential {
					case cli.CredentialMissing:
						return &cli.AuthRequiredError{Site: s.Host}
					case cli.CredentialInvalid:
						return &cli.AuthExpiredError{Site: s.Host}
					}
				}
			}
			return nil
		},
	}
	o.site.register(cmd)
	cmd.Flags().BoolVar(&check, "check", false, "Fail if a site has missing or invalid credentials")
	return cmd
}

func siteStatuses(ctx context.Context, svc *app.Services, sites []auth.DetailedSiteInfo, now time.Time) ([]cli.SiteStatus, error) {
	defaults := make(map[string]string)
	for _, product := range auth.Products {
		if id, ok := svc.Sites.DefaultSite(product); ok {
			defaults[product.Key] = id
		}
	}

	statuses := make([]cli.SiteStatus, 0, len(sites))
	for _, site := range sites {
		st := cli.SiteStatus{
			Product:      site.Product.Name,
			Name:         site.Name,
			Host:         site.Host,
			Cloud:        site.IsCloud,
			User:         site.UserID,
			CredentialID: site.CredentialID,
			Default:      defaults[site.Product.Key] == site.ID,
			Credential:   cli.CredentialMissing,
		}

		info, err := svc.Credentials.Get(ctx, site, false)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials for %s: %w", site.Host, err)
		}
		if info != nil {
			base := info.Base()
			st.AuthType = auth.Kind(info)
			st.Credential = base.State.String()
			switch {
			case base.User.DisplayName != "":
				st.User = base.User.DisplayName
			case base.User.Email != "":
				st.User = base.User.Email
			}
			if oauth, ok := info.(*auth.OAuthInfo); ok && oauth.ExpirationDate > 0 {
				st.Expires = formatExpiry(time.UnixMilli(oauth.ExpirationDate), now)
			}
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

func newAuthLogoutCmd(o *authOptions) *cobra.Command {
	var all, yes bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove a site and its credentials",
		Long: `Remove a site and its credentials.

Sites sharing the same credentials are removed with it.

Examples:
  atlasauth auth logout --site jira.example.com
  atlasauth auth logout --all --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && o.site.host == "" {
				return fmt.Errorf("either --site or --all is required")
			}

			application, err := o.openApp(cmd)
			if err != nil {
				return err
			}
			defer application.Close()
			svc := application.Services()
			ctx := cmd.Context()

			if !all {
				site, err := o.findSite(svc)
				if err != nil {
					return err
				}
				if _, err := svc.Login.Logout(ctx, site); err != nil {
					return fmt.Errorf("failed to log out of %s: %w", site.Host, err)
				}
				o.authPrint(cmd, "Logged out of %s\n", site.Host)
				return nil
			}

			var sites []auth.DetailedSiteInfo
			for _, product := range auth.Products {
				sites = append(sites, svc.Sites.SitesAvailable(product)...)
			}
			if len(sites) == 0 {
				o.authPrint(cmd, "No sites to log out of.\n")
				return nil
			}

			if !yes {
				fmt.Fprintf(cmd.OutOrStdout(), "The following %d site(s) will be removed:\n", len(sites))
				for _, s := range sites {
					fmt.Fprintf(cmd.OutOrStdout(), "  - %s (%s)\n", s.Host, s.Product.Name)
				}
				fmt.Fprint(cmd.OutOrStdout(), "\nAre you sure? [y/N]: ")

				response, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && response == "" {
					return fmt.Errorf("failed to read response: %w", err)
				}
				response = strings.TrimSpace(strings.ToLower(response))
				if response != "y" && response != "yes" {
					fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
					return nil
				}
			}

			removed := 0
			for _, s := range sites {
				// A shared credential may already have removed this site.
				if _, ok := svc.Sites.SiteForHostname(s.Product, s.Host); !ok {
					continue
				}
				if _, err := svc.Login.Logout(ctx, s); err != nil {
					return fmt.Errorf("failed to log out of %s: %w", s.Host, err)
				}
				removed++
			}
			o.authPrint(cmd, "Logged out of %d site(s).\n", removed)
			return nil
		},
	}
	o.site.register(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "Remove every site")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt for --all")
	return cmd
}

func newAuthDefaultCmd(o *authOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "default",
		Short: "Mark a site as the default of its product",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := o.openApp(cmd)
			if err != nil {
				return err
			}
			defer application.Close()
			svc := application.Services()

			site, err := o.findSite(svc)
			if err != nil {
				return err
			}
			if err := svc.Sites.SetDefaultSite(site.Product, site.ID); err != nil {
				return err
			}
			o.authPrint(cmd, "%s is now the default %s site\n", site.Host, site.Product.Name)
			return nil
		},
	}
	o.site.register(cmd)
	return cmd
}
