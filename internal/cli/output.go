package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"

	"atlasauth/pkg/strings"
)

// OutputFormat selects how listings are printed.
type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatPlain OutputFormat = "plain"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatYAML  OutputFormat = "yaml"
)

// ParseOutputFormat validates an --output value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case OutputFormatTable, OutputFormatPlain, OutputFormatJSON, OutputFormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (use table, plain, json or yaml)", s)
	}
}

// Credential states shown for a site.
const (
	CredentialValid   = "Valid"
	CredentialInvalid = "Invalid"
	CredentialMissing = "Missing"
)

// SiteStatus is one row of `auth status`.
type SiteStatus struct {
	Product      string `json:"product" yaml:"product"`
	Name         string `json:"name" yaml:"name"`
	Host         string `json:"host" yaml:"host"`
	Cloud        bool   `json:"cloud" yaml:"cloud"`
	User         string `json:"user,omitempty" yaml:"user,omitempty"`
	AuthType     string `json:"authType,omitempty" yaml:"authType,omitempty"`
	Credential   string `json:"credential" yaml:"credential"`
	Expires      string `json:"expires,omitempty" yaml:"expires,omitempty"`
	CredentialID string `json:"credentialId" yaml:"credentialId"`
	Default      bool   `json:"default,omitempty" yaml:"default,omitempty"`
}

const credentialColumn = 6

var siteHeaders = []string{"Product", "Site", "Host", "Deployment", "User", "Auth", "Credential", "Expires"}

func (s SiteStatus) cells() []string {
	deployment := "server"
	if s.Cloud {
		deployment = "cloud"
	}
	name := strings.Truncate(s.Name, strings.DefaultCellMaxLen)
	if s.Default {
		name += " *"
	}
	expires := s.Expires
	if expires == "" {
		expires = "-"
	}
	user := strings.Truncate(s.User, strings.DefaultCellMaxLen)
	return []string{s.Product, name, s.Host, deployment, user, s.AuthType, s.Credential, expires}
}

// WriteSiteStatuses prints statuses in format.
func WriteSiteStatuses(w io.Writer, format OutputFormat, noHeaders bool, statuses []SiteStatus) error {
	if statuses == nil {
		statuses = []SiteStatus{}
	}

	switch format {
	case OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)

	case OutputFormatYAML:
		out, err := yaml.Marshal(statuses)
		if err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		_, err = w.Write(out)
		return err

	case OutputFormatPlain:
		tw := NewPlainTableWriter(w, siteHeaders...)
		tw.SetNoHeaders(noHeaders)
		for _, s := range statuses {
			tw.AppendRow(s.cells()...)
		}
		return tw.Render()

	default:
		if len(statuses) == 0 {
			_, err := fmt.Fprintln(w, text.FgYellow.Sprint("No sites found. Run: atlasauth auth login"))
			return err
		}
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleRounded)
		if !noHeaders {
			header := make(table.Row, len(siteHeaders))
			for i, h := range siteHeaders {
				header[i] = text.FgHiCyan.Sprint(h)
			}
			t.AppendHeader(header)
		}
		for _, s := range statuses {
			cells := s.cells()
			row := make(table.Row, len(cells))
			for i, c := range cells {
				row[i] = c
			}
			row[credentialColumn] = colorCredential(s.Credential)
			t.AppendRow(row)
		}
		t.Render()
		return nil
	}
}

func colorCredential(state string) string {
	switch state {
	case CredentialValid:
		return text.FgGreen.Sprint(state)
	case CredentialInvalid:
		return text.FgYellow.Sprint(state)
	default:
		return text.FgRed.Sprint(state)
	}
}
