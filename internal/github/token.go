package github

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"
)

type TokenSource string

const (
	TokenSourceNone     TokenSource = ""
	TokenSourceExplicit TokenSource = "explicit"
	TokenSourceEnv      TokenSource = "env:GITHUB_TOKEN"
	TokenSourceGHEnv    TokenSource = "env:GH_TOKEN"
	TokenSourceGHCLI    TokenSource = "gh"
)

// ghTokenCommand is replaced in tests.
var ghTokenCommand = func(ctx context.Context) ([]byte, error) {
	if _, err := exec.LookPath("gh"); err != nil {
		return nil, nil
	}
	cmd := exec.CommandContext(ctx, "gh", "auth", "token", "-h", "github.com")
	cmd.Env = append(os.Environ(), "GH_PAGER=cat")
	return cmd.Output()
}

// ResolveToken finds a GitHub token for the optional repository probe.
//
// Order: explicit value, GITHUB_TOKEN, GH_TOKEN, `gh auth token`. A missing
// token is not an error; the probe then runs unauthenticated or stays
// disabled.
func ResolveToken(ctx context.Context, explicit string) (string, TokenSource, error) {
	if tok := strings.TrimSpace(explicit); tok != "" {
		return tok, TokenSourceExplicit, nil
	}
	if tok := strings.TrimSpace(os.Getenv("GITHUB_TOKEN")); tok != "" {
		return tok, TokenSourceEnv, nil
	}
	if tok := strings.TrimSpace(os.Getenv("GH_TOKEN")); tok != "" {
		return tok, TokenSourceGHEnv, nil
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := ghTokenCommand(cctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", TokenSourceNone, ctx.Err()
		}
		// gh installed but not logged in.
		return "", TokenSourceNone, nil
	}
	tok := strings.TrimSpace(string(out))
	if tok == "" {
		return "", TokenSourceNone, nil
	}
	if strings.ContainsAny(tok, " \t\r\n") {
		return "", TokenSourceNone, errors.New("invalid token returned by gh: contains whitespace")
	}
	return tok, TokenSourceGHCLI, nil
}
