package dynamodb

import (
	"time"

	"github.com/MahdiBaghbani/circleinvite/internal/components/invitations"
)

const (
	kindInvitation = "invitation"
	kindLink       = "link"
	linkKeyPrefix  = "link#"
)

// invitationItem is the attribute layout of an invitation in the
// invitations table.
type invitationItem struct {
	ID             string     `dynamodbav:"id"`
	Kind           string     `dynamodbav:"kind"`
	SenderID       string     `dynamodbav:"senderId"`
	SenderName     string     `dynamodbav:"senderName"`
	SenderEmail    string     `dynamodbav:"senderEmail"`
	RecipientEmail string     `dynamodbav:"recipientEmail"`
	RecipientID    string     `dynamodbav:"recipientId,omitempty"`
	TargetType     string     `dynamodbav:"targetType"`
	TargetID       string     `dynamodbav:"targetId"`
	TargetName     string     `dynamodbav:"targetName"`
	Role           string     `dynamodbav:"role"`
	Teams          []string   `dynamodbav:"teams,omitempty"`
	Message        string     `dynamodbav:"message,omitempty"`
	Status         string     `dynamodbav:"status"`
	CreatedAt      time.Time  `dynamodbav:"createdAt"`
	ExpiresAt      time.Time  `dynamodbav:"expiresAt"`
	AcceptedAt     *time.Time `dynamodbav:"acceptedAt,omitempty"`
	RejectedAt     *time.Time `dynamodbav:"rejectedAt,omitempty"`
	CancelledAt    *time.Time `dynamodbav:"cancelledAt,omitempty"`
	CancelledBy    string     `dynamodbav:"cancelledBy,omitempty"`
	ExpiredAt      *time.Time `dynamodbav:"expiredAt,omitempty"`
	Link           string     `dynamodbav:"link,omitempty"`
	Version        int64      `dynamodbav:"version"`
}

// linkItem reserves a link token so two invitations cannot share it.
type linkItem struct {
	ID           string `dynamodbav:"id"`
	Kind         string `dynamodbav:"kind"`
	InvitationID string `dynamodbav:"invitationId"`
}

type activityItem struct {
	InvitationID   string    `dynamodbav:"invitationId"`
	Seq            string    `dynamodbav:"seq"`
	ID             string    `dynamodbav:"id"`
	Type           string    `dynamodbav:"type"`
	TargetName     string    `dynamodbav:"targetName"`
	RecipientEmail string    `dynamodbav:"recipientEmail"`
	ActorID        string    `dynamodbav:"actorId,omitempty"`
	Timestamp      time.Time `dynamodbav:"timestamp"`
}

func toItem(inv invitations.Invitation) invitationItem {
	rec := inv.Record()
	return invitationItem{
		ID:             rec.ID,
		Kind:           kindInvitation,
		SenderID:       rec.SenderID,
		SenderName:     rec.SenderName,
		SenderEmail:    rec.SenderEmail,
		RecipientEmail: rec.RecipientEmail,
		RecipientID:    rec.RecipientID,
		TargetType:     string(rec.Target.Type),
		TargetID:       rec.Target.ID,
		TargetName:     rec.Target.Name,
		Role:           string(rec.Role),
		Teams:          rec.Teams,
		Message:        rec.Message,
		Status:         string(rec.Status),
		CreatedAt:      rec.CreatedAt,
		ExpiresAt:      rec.ExpiresAt,
		AcceptedAt:     rec.AcceptedAt,
		RejectedAt:     rec.RejectedAt,
		CancelledAt:    rec.CancelledAt,
		CancelledBy:    rec.CancelledBy,
		ExpiredAt:      rec.ExpiredAt,
		Link:           rec.Link,
		Version:        rec.Version,
	}
}

func (it invitationItem) invitation() (invitations.Invitation, error) {
	return invitations.Record{
		ID:             it.ID,
		SenderID:       it.SenderID,
		SenderName:     it.SenderName,
		SenderEmail:    it.SenderEmail,
		RecipientEmail: it.RecipientEmail,
		RecipientID:    it.RecipientID,
		Target: invitations.Target{
			Type: invitations.TargetType(it.TargetType),
			ID:   it.TargetID,
			Name: it.TargetName,
		},
		Role:        invitations.Role(it.Role),
		Teams:       it.Teams,
		Message:     it.Message,
		Status:      invitations.Status(it.Status),
		CreatedAt:   it.CreatedAt,
		ExpiresAt:   it.ExpiresAt,
		AcceptedAt:  it.AcceptedAt,
		RejectedAt:  it.RejectedAt,
		CancelledAt: it.CancelledAt,
		CancelledBy: it.CancelledBy,
		ExpiredAt:   it.ExpiredAt,
		Link:        it.Link,
		Version:     it.Version,
	}.Invitation()
}

// activitySeq sorts lexically in timestamp order, ties broken by id.
func activitySeq(a invitations.Activity) string {
	return a.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z") + "#" + a.ID
}

func toActivityItem(a invitations.Activity) activityItem {
	return activityItem{
		InvitationID:   a.InvitationID,
		Seq:            activitySeq(a),
		ID:             a.ID,
		Type:           string(a.Type),
		TargetName:     a.TargetName,
		RecipientEmail: a.RecipientEmail,
		ActorID:        a.ActorID,
		Timestamp:      a.Timestamp,
	}
}

func (it activityItem) activity() invitations.Activity {
	return invitations.Activity{
		ID:             it.ID,
		Type:           invitations.ActivityType(it.Type),
		InvitationID:   it.InvitationID,
		TargetName:     it.TargetName,
		RecipientEmail: it.RecipientEmail,
		ActorID:        it.ActorID,
		Timestamp:      it.Timestamp,
	}
}
