package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var testStatuses = []SiteStatus{
	{
		Product:      "Jira",
		Name:         "acme",
		Host:         "acme.atlassian.net",
		Cloud:        true,
		User:         "Alice",
		AuthType:     "oauth",
		Credential:   CredentialValid,
		CredentialID: "c1",
		Default:      true,
	},
	{
		Product:      "Bitbucket",
		Name:         "git.example.com",
		Host:         "git.example.com",
		AuthType:     "pat",
		Credential:   CredentialMissing,
		CredentialID: "c2",
	},
}

func TestParseOutputFormat(t *testing.T) {
	for _, valid := range []string{"table", "plain", "json", "yaml"} {
		f, err := ParseOutputFormat(valid)
		require.NoError(t, err)
		assert.Equal(t, OutputFormat(valid), f)
	}

	_, err := ParseOutputFormat("wide")
	assert.ErrorContains(t, err, "unsupported output format")
	_, err = ParseOutputFormat("")
	assert.Error(t, err)
}

func TestWriteSiteStatuses_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSiteStatuses(&buf, OutputFormatJSON, false, testStatuses))

	var got []SiteStatus
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, testStatuses, got)
}

func TestWriteSiteStatuses_EmptyJSONIsArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSiteStatuses(&buf, OutputFormatJSON, false, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestWriteSiteStatuses_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSiteStatuses(&buf, OutputFormatYAML, false, testStatuses))

	var got []SiteStatus
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, testStatuses, got)
	assert.Contains(t, buf.String(), "credentialId: c1")
}

func TestWriteSiteStatuses_Plain(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSiteStatuses(&buf, OutputFormatPlain, false, testStatuses))

	lines := splitNonEmpty(buf.String())
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "PRODUCT")
	assert.Contains(t, lines[1], "acme *")
	assert.Contains(t, lines[1], "cloud")
	assert.Contains(t, lines[2], "server")
	assert.Contains(t, lines[2], "Missing")

	buf.Reset()
	require.NoError(t, WriteSiteStatuses(&buf, OutputFormatPlain, true, testStatuses))
	assert.Len(t, splitNonEmpty(buf.String()), 2)
}

func TestWriteSiteStatuses_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSiteStatuses(&buf, OutputFormatTable, false, testStatuses))

	out := buf.String()
	assert.Contains(t, out, "acme.atlassian.net")
	assert.Contains(t, out, "git.example.com")
	assert.Contains(t, out, "╭")
}

func TestWriteSiteStatuses_TableEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSiteStatuses(&buf, OutputFormatTable, false, nil))
	assert.Contains(t, buf.String(), "No sites found")
}

func splitNonEmpty(s string) []string {
	var lines []string
	for _, line := range bytes.Split([]byte(s), []byte("\n")) {
		if len(line) > 0 {
			lines = append(lines, string(line))
		}
	}
	return lines
}

func TestSiteStatus_CellsTruncateLongText(t *testing.T) {
	s := SiteStatus{
		Product:    "Jira",
		Name:       "a-very-long-cloud-site-name-for-the-engineering-org",
		Host:       "eng.atlassian.net",
		Cloud:      true,
		User:       "Alice",
		Credential: CredentialValid,
		Default:    true,
	}

	cells := s.cells()
	assert.Equal(t, "a-very-long-cloud-site-name-for-the-e... *", cells[1])
	assert.Equal(t, "cloud", cells[3])
	assert.Equal(t, "Alice", cells[4])
	assert.Equal(t, "-", cells[7])
}
