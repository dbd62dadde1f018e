package repository

import (
	"context"
	"fmt"
	"time"

	bookingDomain "github.com/bookwell/service-booking/internal/domain/booking"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OutboxModel is the GORM model for the booking_side_effect_outbox table.
type OutboxModel struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	BookingID        uuid.UUID `gorm:"type:uuid;not null;index"`
	Kind             string    `gorm:"type:varchar(30);not null"`
	AmountCents      int64     `gorm:"not null;default:0"`
	Audience         string    `gorm:"type:varchar(20)"`
	NotificationKind string    `gorm:"type:varchar(60)"`
	IdempotencyKey   string    `gorm:"type:varchar(120)"`
	Status           string    `gorm:"type:varchar(20);not null;index:idx_outbox_due,priority:1"`
	Attempts         int       `gorm:"not null;default:0"`
	LastError        string    `gorm:"type:text"`
	NextAttemptAt    time.Time `gorm:"not null;index:idx_outbox_due,priority:2"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

// TableName sets the table name.
func (OutboxModel) TableName() string { return "booking_side_effect_outbox" }

// GormOutboxRepository implements OutboxRepository using GORM.
type GormOutboxRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormOutboxRepository creates a new GormOutboxRepository.
func NewGormOutboxRepository(db *gorm.DB) *GormOutboxRepository {
	return &GormOutboxRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue stores a side effect for the relay, due immediately.
func (r *GormOutboxRepository) Enqueue(ctx context.Context, bookingID uuid.UUID, effect bookingDomain.SideEffect, cause error) error {
	now := r.now()
	model := OutboxModel{
		ID:               uuid.New(),
		BookingID:        bookingID,
		Kind:             string(effect.Kind),
		AmountCents:      effect.Amount,
		Audience:         string(effect.Audience),
		NotificationKind: effect.NotificationKind,
		IdempotencyKey:   effect.IdempotencyKey,
		Status:           string(bookingDomain.OutboxPending),
		NextAttemptAt:    now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if cause != nil {
		model.LastError = cause.Error()
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("failed to enqueue side effect: %w", err)
	}
	return nil
}

const claimDueSQL = `
UPDATE booking_side_effect_outbox
SET next_attempt_at = ?, updated_at = ?
WHERE id IN (
	SELECT id FROM booking_side_effect_outbox
	WHERE status = ? AND next_attempt_at <= ?
	ORDER BY next_attempt_at ASC
	LIMIT ?
	FOR UPDATE SKIP LOCKED
)
RETURNING *`

// ClaimDue leases up to limit due entries by pushing their next attempt to leaseUntil.
// Concurrent relays skip rows another relay is claiming.
func (r *GormOutboxRepository) ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*bookingDomain.OutboxEntry, error) {
	var models []OutboxModel
	if err := r.db.WithContext(ctx).
		Raw(claimDueSQL, leaseUntil, now, string(bookingDomain.OutboxPending), now, limit).
		Scan(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to claim outbox entries: %w", err)
	}

	entries := make([]*bookingDomain.OutboxEntry, len(models))
	for i := range models {
		entries[i] = toOutboxEntry(&models[i])
	}
	return entries, nil
}

// MarkDelivered marks an entry as delivered.
func (r *GormOutboxRepository) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	return r.update(ctx, id, map[string]interface{}{
		"status":     string(bookingDomain.OutboxDelivered),
		"last_error": "",
	})
}

// MarkRetry records a failed attempt and schedules the next one.
func (r *GormOutboxRepository) MarkRetry(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastErr string) error {
	return r.update(ctx, id, map[string]interface{}{
		"attempts":        attempts,
		"next_attempt_at": nextAttemptAt,
		"last_error":      lastErr,
	})
}

// MarkFailed gives up on an entry.
func (r *GormOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error {
	return r.update(ctx, id, map[string]interface{}{
		"status":     string(bookingDomain.OutboxFailed),
		"attempts":   attempts,
		"last_error": lastErr,
	})
}

// CountByStatus returns entry counts grouped by status.
func (r *GormOutboxRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}
	var results []statusCount
	if err := r.db.WithContext(ctx).Model(&OutboxModel{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to count outbox by status: %w", err)
	}

	counts := make(map[string]int64)
	for _, sc := range results {
		counts[sc.Status] = sc.Count
	}
	return counts, nil
}

func (r *GormOutboxRepository) update(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	fields["updated_at"] = r.now()
	if err := r.db.WithContext(ctx).Model(&OutboxModel{}).Where("id = ?", id).Updates(fields).Error; err != nil {
		return fmt.Errorf("failed to update outbox entry: %w", err)
	}
	return nil
}

func toOutboxEntry(m *OutboxModel) *bookingDomain.OutboxEntry {
	return &bookingDomain.OutboxEntry{
		ID:        m.ID,
		BookingID: m.BookingID,
		Effect: bookingDomain.SideEffect{
			Kind:             bookingDomain.SideEffectKind(m.Kind),
			Amount:           m.AmountCents,
			Audience:         bookingDomain.Audience(m.Audience),
			NotificationKind: m.NotificationKind,
			IdempotencyKey:   m.IdempotencyKey,
		},
		Status:        bookingDomain.OutboxStatus(m.Status),
		Attempts:      m.Attempts,
		LastError:     m.LastError,
		NextAttemptAt: m.NextAttemptAt,
		CreatedAt:     m.CreatedAt,
	}
}
