// Package gitcmd runs the git binary as an external process.
package gitcmd

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"strings"

	apperrors "github.com/kurihiro0119/github-backup/internal/errors"
)

// Git is the capability used by the clone fetchers
type Git interface {
	// MirrorClone copies every ref of remoteURL into a bare repository at dest.
	// dest may already exist and contain unrelated files.
	MirrorClone(ctx context.Context, remoteURL, dest string) error

	// Clone creates a working copy of remoteURL at dest, which must not exist
	// or be empty.
	Clone(ctx context.Context, remoteURL, dest string) error
}

// Runner executes one git invocation and returns its combined output
type Runner func(ctx context.Context, dir string, args ...string) ([]byte, error)

// CLI implements Git with the git executable
type CLI struct {
	binary string
	token  string
	run    Runner
}

// Option configures CLI
type Option func(*CLI)

// WithBinary sets the git executable (default "git")
func WithBinary(path string) Option {
	return func(c *CLI) {
		c.binary = path
	}
}

// WithRunner replaces process execution
func WithRunner(r Runner) Option {
	return func(c *CLI) {
		c.run = r
	}
}

// New creates a CLI. A non-empty token is sent as an HTTP basic credential
// through git's http.extraHeader so private repositories can be fetched; it
// never appears in remote URLs or error messages.
func New(token string, opts ...Option) *CLI {
	c := &CLI{binary: "git", token: token}
	c.run = c.exec
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MirrorClone runs the equivalent of `git clone --mirror` into a directory
// that may already hold sibling backup files.
func (c *CLI) MirrorClone(ctx context.Context, remoteURL, dest string) error {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return apperrors.NewIOError(dest, err)
	}

	steps := [][]string{
		{"init", "--bare", "--quiet", dest},
		{"-C", dest, "config", "remote.origin.url", remoteURL},
		{"-C", dest, "config", "--replace-all", "remote.origin.fetch", "+refs/*:refs/*"},
		{"-C", dest, "config", "remote.origin.mirror", "true"},
		c.withAuth("-C", dest, "fetch", "--prune", "--quiet", "origin"),
	}
	for _, args := range steps {
		if err := c.git(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

// Clone runs `git clone`
func (c *CLI) Clone(ctx context.Context, remoteURL, dest string) error {
	return c.git(ctx, c.withAuth("clone", "--quiet", remoteURL, dest)...)
}

func (c *CLI) withAuth(args ...string) []string {
	if c.token == "" {
		return args
	}
	cred := base64.StdEncoding.EncodeToString([]byte("x-access-token:" + c.token))
	return append([]string{"-c", "http.extraHeader=Authorization: Basic " + cred}, args...)
}

func (c *CLI) git(ctx context.Context, args ...string) error {
	out, err := c.run(ctx, "", args...)
	if err != nil {
		return apperrors.NewExternalProcessError(c.describe(args), strings.TrimSpace(string(out)), err)
	}
	return nil
}

// describe renders the command for errors without the credential
func (c *CLI) describe(args []string) string {
	parts := []string{c.binary}
	for i := 0; i < len(args); i++ {
		if args[i] == "-c" && i+1 < len(args) && strings.HasPrefix(args[i+1], "http.extraHeader=") {
			i++
			continue
		}
		parts = append(parts, args[i])
	}
	return strings.Join(parts, " ")
}

func (c *CLI) exec(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.Bytes(), fmt.Errorf("%s: %w", c.binary, err)
	}
	return out.Bytes(), nil
}
