package login

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"

	"atlasauth/pkg/logging"
)

var bitbucketTokenPattern = regexp.MustCompile(`https://x-token-auth:([^@\s]+)@bitbucket.org`)

// ExtractToken returns the first x-token-auth Bitbucket token in text.
func ExtractToken(text string) (string, bool) {
	m := bitbucketTokenPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// GitRunner runs git with args and returns its standard output.
type GitRunner func(ctx context.Context, dir string, args ...string) (string, error)

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	return string(out), err
}

// TokenDiscovery looks for a Bitbucket token in the output of
// `git remote -v` and then in ~/.git-credentials. The first match wins.
type TokenDiscovery struct {
	dir             string
	credentialsPath string
	git             GitRunner
}

// NewTokenDiscovery searches the repository at dir. An empty dir uses the
// working directory.
func NewTokenDiscovery(dir string) *TokenDiscovery {
	d := &TokenDiscovery{dir: dir, git: runGit}
	if home, err := os.UserHomeDir(); err == nil {
		d.credentialsPath = filepath.Join(home, ".git-credentials")
	}
	return d
}

// WithGitRunner replaces the git invocation.
func (d *TokenDiscovery) WithGitRunner(fn GitRunner) *TokenDiscovery {
	d.git = fn
	return d
}

// WithCredentialsPath replaces the ~/.git-credentials location.
func (d *TokenDiscovery) WithCredentialsPath(path string) *TokenDiscovery {
	d.credentialsPath = path
	return d
}

// Discover implements TokenSource.
func (d *TokenDiscovery) Discover(ctx context.Context) (string, bool) {
	out, err := d.git(ctx, d.dir, "remote", "-v")
	if err != nil {
		logging.Debug("Login", "git remote -v failed: %v", err)
	} else if token, ok := ExtractToken(out); ok {
		logging.Debug("Login", "Found Bitbucket token in git remotes")
		return token, true
	}

	if d.credentialsPath == "" {
		return "", false
	}
	data, err := os.ReadFile(d.credentialsPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("Login", "Cannot read %s: %v", d.credentialsPath, err)
		}
		return "", false
	}
	if token, ok := ExtractToken(string(data)); ok {
		logging.Debug("Login", "Found Bitbucket token in %s", d.credentialsPath)
		return token, true
	}
	return "", false
}
