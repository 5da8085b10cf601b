package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nicolRB/LogWare/pkg/config"
	"github.com/nicolRB/LogWare/pkg/identity"
)

// runTokenCmd implements `expenses token`: a development token signed with
// the key derived from AUTH_SEED, so a running server accepts it.
func runTokenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("token", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	cfg := config.Load()
	var (
		sub   string
		roles string
		name  string
		email string
		ttl   time.Duration
	)

	cmd.StringVar(&sub, "sub", "", "Subject (principal id) (REQUIRED)")
	cmd.StringVar(&roles, "roles", "", "Comma-separated roles: employee, manager, director, admin")
	cmd.StringVar(&name, "name", "", "Display name")
	cmd.StringVar(&email, "email", "", "Email address")
	cmd.DurationVar(&ttl, "ttl", cfg.TokenTTL, "Token lifetime")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if sub == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --sub is required")
		cmd.Usage()
		return 2
	}
	if cfg.AuthSeed == "" {
		_, _ = fmt.Fprintln(stderr, "Error: AUTH_SEED must be set to issue tokens the server accepts")
		return 2
	}

	var roleList []string
	for _, r := range strings.Split(roles, ",") {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := identity.ParseRole(r); !ok {
			_, _ = fmt.Fprintf(stderr, "Error: unknown role %q\n", r)
			return 2
		}
		roleList = append(roleList, r)
	}

	ks, err := identity.NewKeySetFromSeed([]byte(cfg.AuthSeed))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	tok, err := identity.NewTokenManager(ks).GenerateToken(context.Background(), identity.Subject{
		ID:    sub,
		Name:  name,
		Email: email,
		Roles: roleList,
	}, ttl)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintln(stdout, tok)
	return 0
}
