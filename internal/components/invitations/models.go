// Package invitations implements the invitation lifecycle: creation, the
// pending -> terminal transitions, expiry and the append-only activity trail.
//
// Everything in this package is a pure function over values plus a caller
// supplied "now". Persistence, notification delivery and identity live in
// sibling packages and are wired together by invitations/service.
package invitations

import (
	"encoding/json"
	"slices"
	"time"
)

// Status is the lifecycle status of an invitation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the five known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s can no longer change.
func (s Status) Terminal() bool {
	return s != StatusPending && s.Valid()
}

// Role is the access level granted by an invitation.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleAdmin    Role = "admin"
	RoleMember   Role = "member"
	RoleObserver Role = "observer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleObserver:
		return true
	}
	return false
}

// Administers reports whether the role may manage invitations of its target.
func (r Role) Administers() bool {
	return r == RoleOwner || r == RoleAdmin
}

// TargetType is the kind of resource access is granted to.
type TargetType string

const (
	TargetOrganization TargetType = "organization"
	TargetProject      TargetType = "project"
	TargetTeam         TargetType = "team"
)

func (t TargetType) Valid() bool {
	switch t {
	case TargetOrganization, TargetProject, TargetTeam:
		return true
	}
	return false
}

// Target identifies what an invitation grants access to.
type Target struct {
	Type TargetType `json:"type"`
	ID   string     `json:"id"`
	Name string     `json:"name"`
}

// Key returns the "type:id" form used to index roles and team registries.
func (t Target) Key() string {
	return string(t.Type) + ":" + t.ID
}

// Principal is the authenticated user acting on invitations.
type Principal struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Email string          `json:"email"`
	Roles map[string]Role `json:"roles,omitempty"` // keyed by Target.Key()
}

// RoleIn returns the principal's role within t, or "" when it has none.
func (p Principal) RoleIn(t Target) Role {
	return p.Roles[t.Key()]
}

// CircleContact is a known person that can be invited by id.
type CircleContact struct {
	ID    string `json:"id" mapstructure:"id"`
	Email string `json:"email" mapstructure:"email"`
	Name  string `json:"name,omitempty" mapstructure:"name"`
}

// Resolution is the terminal outcome of an invitation. A pending invitation
// has a nil Resolution; the concrete types are Accepted, Rejected, Cancelled
// and Expired, so at most one terminal timestamp can ever exist.
type Resolution interface {
	Status() Status
	ResolvedAt() time.Time
}

// Accepted records an explicit acceptance.
type Accepted struct {
	At          time.Time
	RecipientID string
}

func (a Accepted) Status() Status        { return StatusAccepted }
func (a Accepted) ResolvedAt() time.Time { return a.At }

// Rejected records an explicit rejection by the recipient.
type Rejected struct {
	At time.Time
}

func (r Rejected) Status() Status        { return StatusRejected }
func (r Rejected) ResolvedAt() time.Time { return r.At }

// Cancelled records a cancellation by the sender or a target admin.
type Cancelled struct {
	At      time.Time
	ActorID string
}

func (c Cancelled) Status() Status        { return StatusCancelled }
func (c Cancelled) ResolvedAt() time.Time { return c.At }

// Expired records the sweep that observed the invitation past ExpiresAt.
type Expired struct {
	At time.Time
}

func (e Expired) Status() Status        { return StatusExpired }
func (e Expired) ResolvedAt() time.Time { return e.At }

// Invitation grants a recipient a role on a target once accepted.
//
// Invitation values are treated as immutable: engine operations return a new
// value and never modify their input.
type Invitation struct {
	ID             string
	SenderID       string
	SenderName     string
	SenderEmail    string
	RecipientEmail string
	Target         Target
	Role           Role
	Teams          []string
	Message        string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	Link           string
	Resolution     Resolution

	// Version is bumped by the store on every committed transition and is
	// the optimistic concurrency token for compare-and-swap.
	Version int64
}

// Status derives the lifecycle status from the resolution.
func (inv Invitation) Status() Status {
	if inv.Resolution == nil {
		return StatusPending
	}
	return inv.Resolution.Status()
}

// IsPending reports whether the invitation can still transition.
func (inv Invitation) IsPending() bool {
	return inv.Resolution == nil
}

// PastExpiry reports whether now is strictly after ExpiresAt. It is a
// function of time alone, independent of whether a sweep has run.
func (inv Invitation) PastExpiry(now time.Time) bool {
	return now.After(inv.ExpiresAt)
}

// RecipientID is the account that accepted, or "".
func (inv Invitation) RecipientID() string {
	if a, ok := inv.Resolution.(Accepted); ok {
		return a.RecipientID
	}
	return ""
}

func (inv Invitation) AcceptedAt() *time.Time {
	if a, ok := inv.Resolution.(Accepted); ok {
		return &a.At
	}
	return nil
}

func (inv Invitation) RejectedAt() *time.Time {
	if r, ok := inv.Resolution.(Rejected); ok {
		return &r.At
	}
	return nil
}

func (inv Invitation) CancelledAt() *time.Time {
	if c, ok := inv.Resolution.(Cancelled); ok {
		return &c.At
	}
	return nil
}

// Clone returns a deep copy so callers can derive a new value safely.
func (inv Invitation) Clone() Invitation {
	out := inv
	out.Teams = slices.Clone(inv.Teams)
	return out
}

// ActivityType names a lifecycle event.
type ActivityType string

const (
	ActivitySent      ActivityType = "sent"
	ActivityAccepted  ActivityType = "accepted"
	ActivityRejected  ActivityType = "rejected"
	ActivityResent    ActivityType = "resent"
	ActivityCancelled ActivityType = "cancelled"
	ActivityExpired   ActivityType = "expired"
)

// Activity is one append-only audit entry. TargetName and RecipientEmail are
// snapshots so history stays readable after the invitation is purged.
type Activity struct {
	ID             string       `json:"id"`
	Type           ActivityType `json:"type"`
	InvitationID   string       `json:"invitationId"`
	TargetName     string       `json:"targetName"`
	RecipientEmail string       `json:"recipientEmail"`
	ActorID        string       `json:"actorId,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
}

// FormData carries the parameters for creating an invitation.
type FormData struct {
	RecipientEmail   string   `json:"recipientEmail,omitempty"`
	RecipientID      string   `json:"recipientId,omitempty"`
	Role             Role     `json:"role"`
	Teams            []string `json:"teams,omitempty"`
	Message          string   `json:"message,omitempty"`
	ExpirationDays   int      `json:"expirationDays"`
	GenerateLink     bool     `json:"generateLink,omitempty"`
	SendNotification bool     `json:"sendNotification,omitempty"`
}

// Transition is the result of a lifecycle operation: the new invitation
// value, the single activity documenting it, and whether the caller's
// notification collaborator should be invoked.
type Transition struct {
	Invitation Invitation
	Activity   Activity
	Notify     bool
}

// Record is the flat, serializable shape of an Invitation used on the wire
// and by stores that cannot hold the Resolution variant directly.
type Record struct {
	ID             string     `json:"id"`
	SenderID       string     `json:"senderId"`
	SenderName     string     `json:"senderName"`
	SenderEmail    string     `json:"senderEmail"`
	RecipientEmail string     `json:"recipientEmail"`
	RecipientID    string     `json:"recipientId,omitempty"`
	Target         Target     `json:"target"`
	Role           Role       `json:"role"`
	Teams          []string   `json:"teams,omitempty"`
	Message        string     `json:"message,omitempty"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	AcceptedAt     *time.Time `json:"acceptedAt,omitempty"`
	RejectedAt     *time.Time `json:"rejectedAt,omitempty"`
	CancelledAt    *time.Time `json:"cancelledAt,omitempty"`
	CancelledBy    string     `json:"cancelledBy,omitempty"`
	ExpiredAt      *time.Time `json:"expiredAt,omitempty"`
	Link           string     `json:"link,omitempty"`
	Version        int64      `json:"version"`
}

// Record flattens the invitation.
func (inv Invitation) Record() Record {
	rec := Record{
		ID:             inv.ID,
		SenderID:       inv.SenderID,
		SenderName:     inv.SenderName,
		SenderEmail:    inv.SenderEmail,
		RecipientEmail: inv.RecipientEmail,
		Target:         inv.Target,
		Role:           inv.Role,
		Teams:          slices.Clone(inv.Teams),
		Message:        inv.Message,
		Status:         inv.Status(),
		CreatedAt:      inv.CreatedAt,
		ExpiresAt:      inv.ExpiresAt,
		Link:           inv.Link,
		Version:        inv.Version,
	}
	switch r := inv.Resolution.(type) {
	case Accepted:
		rec.RecipientID = r.RecipientID
		rec.AcceptedAt = &r.At
	case Rejected:
		rec.RejectedAt = &r.At
	case Cancelled:
		rec.CancelledAt = &r.At
		rec.CancelledBy = r.ActorID
	case Expired:
		rec.ExpiredAt = &r.At
	}
	return rec
}

// Invitation rebuilds the invitation from a flat record. A record whose
// status and timestamps disagree is rejected.
func (rec Record) Invitation() (Invitation, error) {
	inv := Invitation{
		ID:             rec.ID,
		SenderID:       rec.SenderID,
		SenderName:     rec.SenderName,
		SenderEmail:    rec.SenderEmail,
		RecipientEmail: rec.RecipientEmail,
		Target:         rec.Target,
		Role:           rec.Role,
		Teams:          slices.Clone(rec.Teams),
		Message:        rec.Message,
		CreatedAt:      rec.CreatedAt,
		ExpiresAt:      rec.ExpiresAt,
		Link:           rec.Link,
		Version:        rec.Version,
	}
	switch rec.Status {
	case StatusPending:
	case StatusAccepted:
		if rec.AcceptedAt == nil {
			return Invitation{}, corruptRecord(rec, "accepted without acceptedAt")
		}
		inv.Resolution = Accepted{At: *rec.AcceptedAt, RecipientID: rec.RecipientID}
	case StatusRejected:
		if rec.RejectedAt == nil {
			return Invitation{}, corruptRecord(rec, "rejected without rejectedAt")
		}
		inv.Resolution = Rejected{At: *rec.RejectedAt}
	case StatusCancelled:
		if rec.CancelledAt == nil {
			return Invitation{}, corruptRecord(rec, "cancelled without cancelledAt")
		}
		inv.Resolution = Cancelled{At: *rec.CancelledAt, ActorID: rec.CancelledBy}
	case StatusExpired:
		var at time.Time
		if rec.ExpiredAt != nil {
			at = *rec.ExpiredAt
		}
		inv.Resolution = Expired{At: at}
	default:
		return Invitation{}, corruptRecord(rec, "unknown status "+string(rec.Status))
	}
	return inv, nil
}

func (inv Invitation) MarshalJSON() ([]byte, error) {
	return json.Marshal(inv.Record())
}

func (inv *Invitation) UnmarshalJSON(data []byte) error {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	out, err := rec.Invitation()
	if err != nil {
		return err
	}
	*inv = out
	return nil
}
