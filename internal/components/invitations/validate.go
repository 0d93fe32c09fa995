package invitations

import (
	"net/mail"
	"slices"
	"strings"

	"golang.org/x/net/idna"
)

// NormalizeEmail validates a bare email address and returns it with the
// local part preserved and the domain lower-cased in its ASCII (punycode) form.
// Display-name forms such as "Bob <bob@example.com>" are rejected.
func NormalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", invalid("recipientEmail", "is required")
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Name != "" || addr.Address != raw {
		return "", invalid("recipientEmail", "is not a valid email address")
	}

	at := strings.LastIndex(addr.Address, "@")
	local, domain := addr.Address[:at], addr.Address[at+1:]

	asciiDomain, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return "", invalid("recipientEmail", "has an invalid domain")
	}
	if !strings.Contains(asciiDomain, ".") {
		return "", invalid("recipientEmail", "domain must be fully qualified")
	}
	return local + "@" + strings.ToLower(asciiDomain), nil
}

// normalizeTeams trims, drops empties, de-duplicates and sorts team ids.
func normalizeTeams(teams []string) []string {
	if len(teams) == 0 {
		return nil
	}
	out := make([]string, 0, len(teams))
	for _, t := range teams {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

func validateTarget(t Target) (Target, error) {
	if !t.Type.Valid() {
		return Target{}, invalid("target.type", "must be one of organization, project, team")
	}
	t.ID = strings.TrimSpace(t.ID)
	if t.ID == "" {
		return Target{}, invalid("target.id", "is required")
	}
	t.Name = strings.TrimSpace(t.Name)
	return t, nil
}

// validateTeams enforces that a team-scoped invitation carries no
// cross-team grants.
func validateTeams(target Target, teams []string) error {
	if target.Type != TargetTeam {
		return nil
	}
	for _, id := range teams {
		if id != target.ID {
			return invalid("teams", "a team invitation may only reference its own team")
		}
	}
	return nil
}
