package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	bookingDomain "github.com/bookwell/service-booking/internal/domain/booking"
	"github.com/bookwell/service-booking/pkg/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BookingModel is the GORM model for the bookings table.
type BookingModel struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	BookingNumber  string     `gorm:"uniqueIndex;not null;size:20"`
	CustomerID     uuid.UUID  `gorm:"type:uuid;index;not null"`
	ProviderID     uuid.UUID  `gorm:"type:uuid;index;not null"`
	ServiceName    string     `gorm:"not null;size:120"`
	State          string     `gorm:"not null;size:30;index:idx_bookings_state_entered,priority:1"`
	StateEnteredAt time.Time  `gorm:"not null;index:idx_bookings_state_entered,priority:2"`
	PriceCents     int64      `gorm:"not null"`
	PaidCents      int64      `gorm:"not null;default:0"`
	Currency       string     `gorm:"not null;size:3;default:'USD'"`
	ScheduledAt    *time.Time `gorm:""`
	Notes          string     `gorm:"size:1000"`
	Version        int64      `gorm:"not null;default:1"`
	CreatedAt      time.Time  `gorm:"not null"`
	UpdatedAt      time.Time  `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (BookingModel) TableName() string {
	return "bookings"
}

// GormBookingRepository is the GORM-based implementation of BookingRepository.
// It is also the state store used by the booking state machine.
type GormBookingRepository struct {
	db *gorm.DB
}

// NewGormBookingRepository creates a new GormBookingRepository.
func NewGormBookingRepository(db *gorm.DB) *GormBookingRepository {
	return &GormBookingRepository{db: db}
}

// LoadState reads the lifecycle columns of a booking.
func (r *GormBookingRepository) LoadState(ctx context.Context, id uuid.UUID) (bookingDomain.StateSnapshot, error) {
	var model BookingModel
	if err := r.db.WithContext(ctx).
		Select("id", "state", "state_entered_at", "price_cents", "paid_cents", "version").
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return bookingDomain.StateSnapshot{}, domain.NewNotFoundError("Booking", id.String())
		}
		return bookingDomain.StateSnapshot{}, fmt.Errorf("failed to load booking state: %w", err)
	}

	state, err := bookingDomain.ParseState(model.State)
	if err != nil {
		return bookingDomain.StateSnapshot{}, err
	}
	return bookingDomain.StateSnapshot{
		BookingID:  model.ID,
		State:      state,
		Version:    model.Version,
		EnteredAt:  model.StateEnteredAt,
		PriceCents: model.PriceCents,
		TotalPaid:  model.PaidCents,
	}, nil
}

// CommitState moves a booking to its new state if its version is still the expected one,
// and appends the transition to the log in the same transaction.
func (r *GormBookingRepository) CommitState(ctx context.Context, c bookingDomain.StateCommit) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&BookingModel{}).
			Where("id = ? AND version = ?", c.BookingID, c.ExpectedVersion).
			Updates(map[string]interface{}{
				"state":            string(c.To),
				"state_entered_at": c.EnteredAt,
				"paid_cents":       c.PaidCents,
				"version":          c.NewVersion,
				"updated_at":       c.EnteredAt,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to update booking state: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return bookingDomain.ErrVersionConflict
		}

		entry := TransitionLogModel{
			ID:            uuid.New(),
			BookingID:     c.BookingID,
			FromState:     string(c.From),
			ToState:       string(c.To),
			Event:         string(c.Event),
			Role:          string(c.Role),
			ActorID:       c.ActorID,
			Version:       c.NewVersion,
			RefundAmount:  c.RefundAmount,
			DisputeReason: c.DisputeReason,
			OccurredAt:    c.EnteredAt,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("failed to record transition: %w", err)
		}
		return nil
	})
}

// FindByID retrieves a booking by its unique identifier.
func (r *GormBookingRepository) FindByID(ctx context.Context, id uuid.UUID) (*bookingDomain.Booking, error) {
	var model BookingModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Booking", id.String())
		}
		return nil, fmt.Errorf("failed to find booking by ID: %w", err)
	}
	return toDomainBooking(&model)
}

// FindByNumber retrieves a booking by its booking number.
func (r *GormBookingRepository) FindByNumber(ctx context.Context, number string) (*bookingDomain.Booking, error) {
	var model BookingModel
	if err := r.db.WithContext(ctx).Where("booking_number = ?", number).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Booking", number)
		}
		return nil, fmt.Errorf("failed to find booking by number: %w", err)
	}
	return toDomainBooking(&model)
}

// FindByCustomerID retrieves bookings for a specific customer with pagination.
func (r *GormBookingRepository) FindByCustomerID(ctx context.Context, customerID uuid.UUID, page, limit int) ([]*bookingDomain.Booking, int64, error) {
	return r.paginate(ctx, "customer", r.db.Where("customer_id = ?", customerID), page, limit)
}

// FindByProviderID retrieves bookings for a specific provider with pagination.
func (r *GormBookingRepository) FindByProviderID(ctx context.Context, providerID uuid.UUID, page, limit int) ([]*bookingDomain.Booking, int64, error) {
	return r.paginate(ctx, "provider", r.db.Where("provider_id = ?", providerID), page, limit)
}

// ListAll retrieves all bookings with pagination (admin).
func (r *GormBookingRepository) ListAll(ctx context.Context, page, limit int) ([]*bookingDomain.Booking, int64, error) {
	return r.paginate(ctx, "all", r.db, page, limit)
}

// FindDwellExpired returns the ids of bookings that entered state at or before cutoff, oldest first.
func (r *GormBookingRepository) FindDwellExpired(ctx context.Context, state bookingDomain.State, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).Model(&BookingModel{}).
		Where("state = ? AND state_entered_at <= ?", string(state), cutoff).
		Order("state_entered_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to find expired %s bookings: %w", state, err)
	}
	return ids, nil
}

// CountByState returns booking counts grouped by state (admin).
func (r *GormBookingRepository) CountByState(ctx context.Context) (map[string]int64, error) {
	type stateCount struct {
		State string
		Count int64
	}
	var results []stateCount
	if err := r.db.WithContext(ctx).Model(&BookingModel{}).
		Select("state, count(*) as count").
		Group("state").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to count by state: %w", err)
	}

	counts := make(map[string]int64)
	for _, sc := range results {
		counts[sc.State] = sc.Count
	}
	return counts, nil
}

// Save persists a new booking.
func (r *GormBookingRepository) Save(ctx context.Context, bk *bookingDomain.Booking) error {
	model := toBookingModel(bk)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to save booking: %w", err)
	}
	return nil
}

func (r *GormBookingRepository) paginate(ctx context.Context, scope string, query *gorm.DB, page, limit int) ([]*bookingDomain.Booking, int64, error) {
	var total int64
	if err := query.Session(&gorm.Session{}).WithContext(ctx).Model(&BookingModel{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count %s bookings: %w", scope, err)
	}

	var models []BookingModel
	offset := (page - 1) * limit
	if err := query.Session(&gorm.Session{}).WithContext(ctx).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to find %s bookings: %w", scope, err)
	}

	bookings := make([]*bookingDomain.Booking, len(models))
	for i := range models {
		bk, err := toDomainBooking(&models[i])
		if err != nil {
			return nil, 0, err
		}
		bookings[i] = bk
	}
	return bookings, total, nil
}

// --- Conversion Helpers ---

func toBookingModel(bk *bookingDomain.Booking) *BookingModel {
	return &BookingModel{
		ID:             bk.ID(),
		BookingNumber:  bk.BookingNumber(),
		CustomerID:     bk.CustomerID(),
		ProviderID:     bk.ProviderID(),
		ServiceName:    bk.ServiceName(),
		State:          string(bk.State()),
		StateEnteredAt: bk.StateEnteredAt(),
		PriceCents:     bk.PriceCents(),
		PaidCents:      bk.TotalPaid(),
		Currency:       bk.Currency(),
		ScheduledAt:    bk.ScheduledAt(),
		Notes:          bk.Notes(),
		Version:        bk.Version(),
		CreatedAt:      bk.CreatedAt(),
		UpdatedAt:      bk.UpdatedAt(),
	}
}

func toDomainBooking(m *BookingModel) (*bookingDomain.Booking, error) {
	state, err := bookingDomain.ParseState(m.State)
	if err != nil {
		return nil, err
	}

	return bookingDomain.ReconstructBooking(
		m.ID,
		m.BookingNumber,
		m.CustomerID,
		m.ProviderID,
		m.ServiceName,
		state,
		m.StateEnteredAt,
		m.PriceCents,
		m.PaidCents,
		m.Currency,
		m.ScheduledAt,
		m.Notes,
		m.Version,
		m.CreatedAt,
		m.UpdatedAt,
	), nil
}
