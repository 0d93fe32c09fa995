package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/MahdiBaghbani/circleinvite/internal/components/identity"
	"github.com/MahdiBaghbani/circleinvite/internal/components/invitations"
)

// runToken prints a bearer token signed with the configured secret. It is
// meant for local testing against a dev server.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	id := fs.String("id", "", "User id (token subject, required)")
	name := fs.String("name", "", "Display name")
	email := fs.String("email", "", "Email address")
	roles := fs.String("roles", "", "Target roles, e.g. project:apollo=admin,organization:acme=member")

	cfg, err := loadConfig(fs, args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	parsed, err := parseRoles(*roles)
	if err != nil {
		return err
	}

	tokens, err := identity.NewTokenIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.TokenTTL())
	if err != nil {
		return err
	}
	token, err := tokens.Issue(invitations.Principal{
		ID:    *id,
		Name:  *name,
		Email: *email,
		Roles: parsed,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

// parseRoles parses "type:id=role" pairs separated by commas.
func parseRoles(s string) (map[string]invitations.Role, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	roles := make(map[string]invitations.Role)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		key, role, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid role %q: want type:id=role", pair)
		}
		typ, targetID, ok := strings.Cut(key, ":")
		if !ok || targetID == "" {
			return nil, fmt.Errorf("invalid role target %q: want type:id", key)
		}
		target := invitations.Target{Type: invitations.TargetType(typ), ID: targetID}
		if !target.Type.Valid() {
			return nil, fmt.Errorf("invalid target type %q", typ)
		}
		r := invitations.Role(role)
		if !r.Valid() {
			return nil, fmt.Errorf("invalid role %q", role)
		}
		roles[target.Key()] = r
	}
	return roles, nil
}
