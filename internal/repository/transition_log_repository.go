package repository

import (
	"context"
	"fmt"
	"time"

	bookingDomain "github.com/bookwell/service-booking/internal/domain/booking"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TransitionLogModel is the GORM model for the booking_transitions table.
// Rows are only ever inserted, by GormBookingRepository.CommitState.
type TransitionLogModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	BookingID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_booking_transitions_version,priority:1"`
	FromState     string    `gorm:"type:varchar(30);not null"`
	ToState       string    `gorm:"type:varchar(30);not null"`
	Event         string    `gorm:"type:varchar(40);not null"`
	Role          string    `gorm:"type:varchar(20);not null"`
	ActorID       uuid.UUID `gorm:"type:uuid"`
	Version       int64     `gorm:"not null;uniqueIndex:idx_booking_transitions_version,priority:2"`
	RefundAmount  *int64    `gorm:"column:refund_amount_cents"`
	DisputeReason string    `gorm:"type:text"`
	OccurredAt    time.Time `gorm:"not null"`
}

// TableName sets the table name.
func (TransitionLogModel) TableName() string { return "booking_transitions" }

// GormTransitionLogRepository implements TransitionLogRepository using GORM.
type GormTransitionLogRepository struct {
	db *gorm.DB
}

// NewGormTransitionLogRepository creates a new GormTransitionLogRepository.
func NewGormTransitionLogRepository(db *gorm.DB) *GormTransitionLogRepository {
	return &GormTransitionLogRepository{db: db}
}

// FindByBookingID returns the transitions of a booking in commit order.
func (r *GormTransitionLogRepository) FindByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*bookingDomain.TransitionRecord, error) {
	var models []TransitionLogModel
	if err := r.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("version ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to find booking transitions: %w", err)
	}

	records := make([]*bookingDomain.TransitionRecord, len(models))
	for i := range models {
		records[i] = toTransitionRecord(&models[i])
	}
	return records, nil
}

func toTransitionRecord(m *TransitionLogModel) *bookingDomain.TransitionRecord {
	return &bookingDomain.TransitionRecord{
		ID:            m.ID,
		BookingID:     m.BookingID,
		From:          bookingDomain.State(m.FromState),
		To:            bookingDomain.State(m.ToState),
		Event:         bookingDomain.Event(m.Event),
		Role:          bookingDomain.Role(m.Role),
		ActorID:       m.ActorID,
		Version:       m.Version,
		RefundAmount:  m.RefundAmount,
		DisputeReason: m.DisputeReason,
		OccurredAt:    m.OccurredAt,
	}
}
