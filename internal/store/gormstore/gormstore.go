// Package gormstore implements the invitation repository on GORM. The
// sqlite and postgres drivers share this code and differ only in dialector.
package gormstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MahdiBaghbani/circleinvite/internal/components/invitations"
	"github.com/MahdiBaghbani/circleinvite/internal/store"
)

// invitationRow is the flattened table form of an invitation.
type invitationRow struct {
	ID             string `gorm:"primaryKey"`
	SenderID       string `gorm:"index"`
	SenderName     string
	SenderEmail    string
	RecipientEmail string `gorm:"index"`
	RecipientID    string
	TargetType     string `gorm:"index:idx_invitations_target"`
	TargetID       string `gorm:"index:idx_invitations_target"`
	TargetName     string
	Role           string
	Teams          []string `gorm:"serializer:json"`
	Message        string
	Status         string    `gorm:"index"`
	CreatedAt      time.Time `gorm:"autoCreateTime:false"`
	ExpiresAt      time.Time `gorm:"index"`
	AcceptedAt     *time.Time
	RejectedAt     *time.Time
	CancelledAt    *time.Time
	CancelledBy    string
	ExpiredAt      *time.Time
	Link           *string `gorm:"uniqueIndex"` // NULL when no link was minted
	Version        int64
}

func (invitationRow) TableName() string { return "invitations" }

type activityRow struct {
	ID             string `gorm:"primaryKey"`
	InvitationID   string `gorm:"index"`
	Type           string
	TargetName     string
	RecipientEmail string
	ActorID        string
	Timestamp      time.Time `gorm:"index"`
}

func (activityRow) TableName() string { return "invitation_activities" }

func toRow(inv invitations.Invitation) invitationRow {
	rec := inv.Record()
	row := invitationRow{
		ID:             rec.ID,
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
		Version:        rec.Version,
	}
	if rec.Link != "" {
		link := rec.Link
		row.Link = &link
	}
	return row
}

func (r invitationRow) invitation() (invitations.Invitation, error) {
	rec := invitations.Record{
		ID:             r.ID,
		SenderID:       r.SenderID,
		SenderName:     r.SenderName,
		SenderEmail:    r.SenderEmail,
		RecipientEmail: r.RecipientEmail,
		RecipientID:    r.RecipientID,
		Target: invitations.Target{
			Type: invitations.TargetType(r.TargetType),
			ID:   r.TargetID,
			Name: r.TargetName,
		},
		Role:        invitations.Role(r.Role),
		Teams:       r.Teams,
		Message:     r.Message,
		Status:      invitations.Status(r.Status),
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
		AcceptedAt:  r.AcceptedAt,
		RejectedAt:  r.RejectedAt,
		CancelledAt: r.CancelledAt,
		CancelledBy: r.CancelledBy,
		ExpiredAt:   r.ExpiredAt,
		Version:     r.Version,
	}
	if r.Link != nil {
		rec.Link = *r.Link
	}
	return rec.Invitation()
}

func toActivityRow(a invitations.Activity) activityRow {
	return activityRow{
		ID:             a.ID,
		InvitationID:   a.InvitationID,
		Type:           string(a.Type),
		TargetName:     a.TargetName,
		RecipientEmail: a.RecipientEmail,
		ActorID:        a.ActorID,
		Timestamp:      a.Timestamp,
	}
}

func (r activityRow) activity() invitations.Activity {
	return invitations.Activity{
		ID:             r.ID,
		Type:           invitations.ActivityType(r.Type),
		InvitationID:   r.InvitationID,
		TargetName:     r.TargetName,
		RecipientEmail: r.RecipientEmail,
		ActorID:        r.ActorID,
		Timestamp:      r.Timestamp,
	}
}

// Repository implements store.Repository over a *gorm.DB.
type Repository struct {
	name      string
	dialector func() (gorm.Dialector, error)
	tune      func(*sql.DB)
	db        *gorm.DB
}

// New creates a repository that opens its connection in Init. tune, when
// non-nil, adjusts the connection pool after opening.
func New(name string, dialector func() (gorm.Dialector, error), tune func(*sql.DB)) *Repository {
	return &Repository{name: name, dialector: dialector, tune: tune}
}

// Name returns the driver name.
func (r *Repository) Name() string {
	return r.name
}

// Init opens the database and runs AutoMigrate.
func (r *Repository) Init(ctx context.Context) error {
	dialector, err := r.dialector()
	if err != nil {
		return err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	r.db = db

	if r.tune != nil {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		r.tune(sqlDB)
	}

	// AutoMigrate creates/updates tables based on the row structs
	if err := db.WithContext(ctx).AutoMigrate(&invitationRow{}, &activityRow{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Create inserts the invitation and its first activity in one transaction.
func (r *Repository) Create(ctx context.Context, inv invitations.Invitation, act invitations.Activity) (invitations.Invitation, error) {
	inv = inv.Clone()
	inv.Version = 1
	row := toRow(inv)
	actRow := toActivityRow(act)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Create(&actRow).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return invitations.Invitation{}, store.ErrAlreadyExists
		}
		return invitations.Invitation{}, err
	}
	return inv, nil
}

// Get retrieves an invitation by id.
func (r *Repository) Get(ctx context.Context, id string) (invitations.Invitation, error) {
	return r.first(ctx, "id = ?", id)
}

// GetByLink retrieves an invitation by its link token.
func (r *Repository) GetByLink(ctx context.Context, link string) (invitations.Invitation, error) {
	if link == "" {
		return invitations.Invitation{}, store.ErrNotFound
	}
	return r.first(ctx, "link = ?", link)
}

func (r *Repository) first(ctx context.Context, query string, args ...any) (invitations.Invitation, error) {
	var row invitationRow
	result := r.db.WithContext(ctx).Where(query, args...).First(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return invitations.Invitation{}, store.ErrNotFound
		}
		return invitations.Invitation{}, result.Error
	}
	return row.invitation()
}

// List returns invitations matching the filter, newest first.
func (r *Repository) List(ctx context.Context, f store.Filter) ([]invitations.Invitation, error) {
	query := r.db.WithContext(ctx).Model(&invitationRow{})
	if f.Status != "" {
		query = query.Where("status = ?", string(f.Status))
	}
	if f.TargetType != "" {
		query = query.Where("target_type = ?", string(f.TargetType))
	}
	if f.TargetID != "" {
		query = query.Where("target_id = ?", f.TargetID)
	}
	if f.SenderID != "" {
		query = query.Where("sender_id = ?", f.SenderID)
	}
	if f.RecipientEmail != "" {
		query = query.Where("LOWER(recipient_email) = LOWER(?)", f.RecipientEmail)
	}

	var rows []invitationRow
	if err := query.Order("created_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}

	result := make([]invitations.Invitation, 0, len(rows))
	for _, row := range rows {
		inv, err := row.invitation()
		if err != nil {
			return nil, err
		}
		result = append(result, inv)
	}
	return result, nil
}

// ListPending returns all pending invitations.
func (r *Repository) ListPending(ctx context.Context) ([]invitations.Invitation, error) {
	return r.List(ctx, store.Filter{Status: invitations.StatusPending})
}

// CompareAndSwap updates the row only while status and version still
// match, then appends the activity, all in one transaction.
func (r *Repository) CompareAndSwap(ctx context.Context, expectStatus invitations.Status, expectVersion int64, next invitations.Invitation, act invitations.Activity) (invitations.Invitation, error) {
	next = next.Clone()
	next.Version = expectVersion + 1
	row := toRow(next)
	actRow := toActivityRow(act)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&invitationRow{}).
			Where("id = ? AND status = ? AND version = ?", next.ID, string(expectStatus), expectVersion).
			Select("*").
			Omit("id", "created_at").
			Updates(&row)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&invitationRow{}).Where("id = ?", next.ID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return store.ErrNotFound
			}
			return store.ErrConflict
		}
		return tx.Create(&actRow).Error
	})
	if err != nil {
		return invitations.Invitation{}, err
	}
	return next, nil
}

// Activities returns the trail of one invitation ordered by timestamp.
func (r *Repository) Activities(ctx context.Context, invitationID string) ([]invitations.Activity, error) {
	var rows []activityRow
	err := r.db.WithContext(ctx).
		Where("invitation_id = ?", invitationID).
		Order("timestamp ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	acts := make([]invitations.Activity, 0, len(rows))
	for _, row := range rows {
		acts = append(acts, row.activity())
	}
	return acts, nil
}
