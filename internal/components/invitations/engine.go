package invitations

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Engine applies lifecycle rules. It holds no invitation state and is safe
// for concurrent use.
type Engine struct {
	newID             func() (string, error)
	links             LinkMinter
	maxExpirationDays int
}

// Option configures an Engine.
type Option func(*Engine)

// WithIDGenerator overrides the UUIDv7 id generator.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(e *Engine) { e.newID = fn }
}

// WithLinkMinter overrides the default RandomLinks minter.
func WithLinkMinter(m LinkMinter) Option {
	return func(e *Engine) { e.links = m }
}

// WithMaxExpirationDays caps expirationDays on create and resend (0 = no cap).
func WithMaxExpirationDays(days int) Option {
	return func(e *Engine) { e.maxExpirationDays = days }
}

// NewEngine creates an engine with the given options.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		newID: newUUIDv7,
		links: RandomLinks{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func newUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Links returns the engine's link minter.
func (e *Engine) Links() LinkMinter { return e.links }

// expiry computes now + days in calendar days. No timezone conversion is
// done; callers pass an already normalized now.
func expiry(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, days)
}

func (e *Engine) checkDays(field string, days int) error {
	if days <= 0 {
		return invalid(field, "must be greater than zero")
	}
	if e.maxExpirationDays > 0 && days > e.maxExpirationDays {
		return invalid(field, fmt.Sprintf("must not exceed %d", e.maxExpirationDays))
	}
	return nil
}

// Create validates form and builds a new pending invitation plus its
// "sent" activity. Notify mirrors form.SendNotification.
func (e *Engine) Create(form FormData, sender Principal, target Target, contacts []CircleContact, now time.Time) (Transition, error) {
	if strings.TrimSpace(sender.ID) == "" {
		return Transition{}, invalid("sender", "is required")
	}

	recipient, err := resolveRecipient(form, contacts)
	if err != nil {
		return Transition{}, err
	}
	if !form.Role.Valid() {
		return Transition{}, invalid("role", "must be one of owner, admin, member, observer")
	}
	target, err = validateTarget(target)
	if err != nil {
		return Transition{}, err
	}
	if err := e.checkDays("expirationDays", form.ExpirationDays); err != nil {
		return Transition{}, err
	}
	teams := normalizeTeams(form.Teams)
	if err := validateTeams(target, teams); err != nil {
		return Transition{}, err
	}

	id, err := e.newID()
	if err != nil {
		return Transition{}, fmt.Errorf("generate invitation id: %w", err)
	}

	inv := Invitation{
		ID:             id,
		SenderID:       sender.ID,
		SenderName:     sender.Name,
		SenderEmail:    sender.Email,
		RecipientEmail: recipient,
		Target:         target,
		Role:           form.Role,
		Teams:          teams,
		Message:        strings.TrimSpace(form.Message),
		CreatedAt:      now,
		ExpiresAt:      expiry(now, form.ExpirationDays),
	}

	if form.GenerateLink {
		link, err := e.links.MintLink(id)
		if err != nil {
			return Transition{}, fmt.Errorf("mint invitation link: %w", err)
		}
		inv.Link = link
	}

	act, err := e.activity(ActivitySent, inv, sender.ID, now)
	if err != nil {
		return Transition{}, err
	}
	return Transition{Invitation: inv, Activity: act, Notify: form.SendNotification}, nil
}

// RemintLink replaces the link of a freshly created, not yet stored
// invitation. Used when a store reports a link collision.
func (e *Engine) RemintLink(t Transition) (Transition, error) {
	if t.Invitation.Link == "" {
		return t, nil
	}
	link, err := e.links.MintLink(t.Invitation.ID)
	if err != nil {
		return Transition{}, fmt.Errorf("mint invitation link: %w", err)
	}
	out := t
	out.Invitation = t.Invitation.Clone()
	out.Invitation.Link = link
	return out, nil
}

// resolveRecipient returns the normalized recipient email. A recipient id
// must resolve to a known contact; otherwise a valid email is required.
func resolveRecipient(form FormData, contacts []CircleContact) (string, error) {
	if id := strings.TrimSpace(form.RecipientID); id != "" {
		for _, c := range contacts {
			if c.ID != id {
				continue
			}
			email, err := NormalizeEmail(c.Email)
			if err != nil {
				return "", invalid("recipientId", "contact has no valid email")
			}
			if form.RecipientEmail != "" {
				given, err := NormalizeEmail(form.RecipientEmail)
				if err != nil {
					return "", err
				}
				if !strings.EqualFold(given, email) {
					return "", invalid("recipientEmail", "does not match the selected contact")
				}
			}
			return email, nil
		}
		if form.RecipientEmail == "" {
			return "", invalid("recipientId", "does not resolve to a known contact")
		}
	}
	return NormalizeEmail(form.RecipientEmail)
}

// Accept moves a pending invitation to accepted. An acceptance arriving
// after ExpiresAt fails with ErrExpired even if no sweep has run.
func (e *Engine) Accept(inv Invitation, recipientID string, now time.Time) (Transition, error) {
	if !inv.IsPending() {
		return Transition{}, transitionError("accept", inv.Status())
	}
	if inv.PastExpiry(now) {
		return Transition{}, fmt.Errorf("%w: expired at %s", ErrExpired, inv.ExpiresAt.Format(time.RFC3339))
	}
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return Transition{}, invalid("recipientId", "is required")
	}
	next := inv.Clone()
	next.Resolution = Accepted{At: now, RecipientID: recipientID}
	return e.transition(next, ActivityAccepted, recipientID, now, true)
}

// Reject moves a pending invitation to rejected.
func (e *Engine) Reject(inv Invitation, actorID string, now time.Time) (Transition, error) {
	if !inv.IsPending() {
		return Transition{}, transitionError("reject", inv.Status())
	}
	next := inv.Clone()
	next.Resolution = Rejected{At: now}
	return e.transition(next, ActivityRejected, actorID, now, true)
}

// Cancel withdraws a pending invitation. Only the sender or an admin/owner
// of the target may cancel.
func (e *Engine) Cancel(inv Invitation, actor Principal, now time.Time) (Transition, error) {
	if !inv.IsPending() {
		return Transition{}, transitionError("cancel", inv.Status())
	}
	if actor.ID == "" || (actor.ID != inv.SenderID && !actor.RoleIn(inv.Target).Administers()) {
		return Transition{}, fmt.Errorf("%w: only the sender or a target admin may cancel", ErrUnauthorized)
	}
	next := inv.Clone()
	next.Resolution = Cancelled{At: now, ActorID: actor.ID}
	return e.transition(next, ActivityCancelled, actor.ID, now, true)
}

// Resend extends a pending invitation's expiry to now + newExpirationDays.
// The new expiry must be strictly later than the current one.
func (e *Engine) Resend(inv Invitation, newExpirationDays int, actorID string, now time.Time) (Transition, error) {
	if !inv.IsPending() {
		return Transition{}, transitionError("resend", inv.Status())
	}
	if inv.PastExpiry(now) {
		return Transition{}, fmt.Errorf("%w: expired at %s", ErrExpired, inv.ExpiresAt.Format(time.RFC3339))
	}
	if e.maxExpirationDays > 0 && newExpirationDays > e.maxExpirationDays {
		return Transition{}, invalid("expirationDays", fmt.Sprintf("must not exceed %d", e.maxExpirationDays))
	}
	expiresAt := expiry(now, newExpirationDays)
	if !expiresAt.After(inv.ExpiresAt) {
		return Transition{}, fmt.Errorf("%w: %s is not after current expiry %s",
			ErrInvalidExpiration, expiresAt.Format(time.RFC3339), inv.ExpiresAt.Format(time.RFC3339))
	}
	next := inv.Clone()
	next.ExpiresAt = expiresAt
	return e.transition(next, ActivityResent, actorID, now, true)
}

// Expire moves a single pending invitation past its expiry to expired.
// ok is false when there is nothing to do.
func (e *Engine) Expire(inv Invitation, now time.Time) (t Transition, ok bool, err error) {
	if !inv.IsPending() || !inv.PastExpiry(now) {
		return Transition{}, false, nil
	}
	next := inv.Clone()
	next.Resolution = Expired{At: now}
	t, err = e.transition(next, ActivityExpired, "", now, false)
	if err != nil {
		return Transition{}, false, err
	}
	return t, true, nil
}

// SweepExpired returns one transition per pending invitation whose expiry
// has passed. Terminal invitations are skipped, so running it again with
// the same now over its own output yields nothing.
func (e *Engine) SweepExpired(invs []Invitation, now time.Time) ([]Transition, error) {
	var out []Transition
	for _, inv := range invs {
		t, ok, err := e.Expire(inv, now)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (e *Engine) transition(next Invitation, typ ActivityType, actorID string, now time.Time, notify bool) (Transition, error) {
	act, err := e.activity(typ, next, actorID, now)
	if err != nil {
		return Transition{}, err
	}
	return Transition{Invitation: next, Activity: act, Notify: notify}, nil
}

func (e *Engine) activity(typ ActivityType, inv Invitation, actorID string, now time.Time) (Activity, error) {
	id, err := e.newID()
	if err != nil {
		return Activity{}, fmt.Errorf("generate activity id: %w", err)
	}
	return Activity{
		ID:             id,
		Type:           typ,
		InvitationID:   inv.ID,
		TargetName:     inv.Target.Name,
		RecipientEmail: inv.RecipientEmail,
		ActorID:        actorID,
		Timestamp:      now,
	}, nil
}
