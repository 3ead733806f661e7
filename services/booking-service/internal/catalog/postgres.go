package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/algotwist369/bookby247/services/booking-service/internal/apperr"
	"github.com/algotwist369/bookby247/services/booking-service/internal/model"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresProvider reads configuration tables maintained by the business administration side.
type PostgresProvider struct {
	db querier
}

func NewPostgresProvider(db querier) *PostgresProvider {
	return &PostgresProvider{db: db}
}

func (p *PostgresProvider) Policy(ctx context.Context, businessID string) (model.BusinessPolicy, error) {
	var (
		policy      model.BusinessPolicy
		weeklyHours []byte
		openDays    []int32
	)
	err := p.db.QueryRow(ctx, `
		SELECT business_id, timezone, weekly_hours, open_days, slot_minutes, buffer_minutes,
			min_advance_hours, max_advance_hours, online_booking_enabled, tax_rate_percent,
			cancellation_allowed, cancellation_min_notice_hours, cancellation_refund_percent
		FROM business_policies
		WHERE business_id = $1
	`, businessID).Scan(
		&policy.ID,
		&policy.Timezone,
		&weeklyHours,
		&openDays,
		&policy.SlotMinutes,
		&policy.BufferMinutes,
		&policy.MinAdvanceHours,
		&policy.MaxAdvanceHours,
		&policy.OnlineBookingEnabled,
		&policy.TaxRatePercent,
		&policy.Cancellation.Allowed,
		&policy.Cancellation.MinNoticeHours,
		&policy.Cancellation.RefundPercent,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.BusinessPolicy{}, apperr.NotFound("business", businessID)
	}
	if err != nil {
		return model.BusinessPolicy{}, fmt.Errorf("load business policy: %w", err)
	}

	if len(weeklyHours) > 0 {
		hours, err := decodeWeeklyHours(weeklyHours)
		if err != nil {
			return model.BusinessPolicy{}, fmt.Errorf("business %s: %w", businessID, err)
		}
		policy.WeeklyHours = hours
	}
	for _, d := range openDays {
		if d >= 0 && d <= 6 {
			policy.OpenDays = append(policy.OpenDays, time.Weekday(d))
		}
	}
	return policy, nil
}

// decodeWeeklyHours reads {"0": {"open": "09:00", "close": "18:00"}, ...} keyed by weekday (0 = Sunday).
func decodeWeeklyHours(raw []byte) (map[time.Weekday]model.DayHours, error) {
	var byDay map[string]model.DayHours
	if err := json.Unmarshal(raw, &byDay); err != nil {
		return nil, fmt.Errorf("invalid weekly_hours: %w", err)
	}
	out := make(map[time.Weekday]model.DayHours, len(byDay))
	for k, v := range byDay {
		d, err := strconv.Atoi(k)
		if err != nil || d < 0 || d > 6 {
			return nil, fmt.Errorf("invalid weekday %q in weekly_hours", k)
		}
		out[time.Weekday(d)] = v
	}
	return out, nil
}

func (p *PostgresProvider) Service(ctx context.Context, serviceID string) (model.Service, error) {
	return p.loadService(ctx, `
		SELECT id, business_id, name, price, duration_minutes, active
		FROM services
		WHERE id = $1
	`, serviceID)
}

func (p *PostgresProvider) ServiceByName(ctx context.Context, businessID, name string) (model.Service, error) {
	return p.loadService(ctx, `
		SELECT id, business_id, name, price, duration_minutes, active
		FROM services
		WHERE business_id = $1 AND lower(name) = lower($2)
		ORDER BY created_at ASC
		LIMIT 1
	`, businessID, name)
}

func (p *PostgresProvider) loadService(ctx context.Context, query string, args ...any) (model.Service, error) {
	var svc model.Service
	err := p.db.QueryRow(ctx, query, args...).Scan(
		&svc.ID,
		&svc.BusinessID,
		&svc.Name,
		&svc.Price,
		&svc.Duration,
		&svc.Active,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Service{}, apperr.NotFound("service", fmt.Sprint(args[len(args)-1]))
	}
	if err != nil {
		return model.Service{}, fmt.Errorf("load service: %w", err)
	}

	rows, err := p.db.Query(ctx, `
		SELECT label, price, duration_minutes, active
		FROM service_pricing_tiers
		WHERE service_id = $1
		ORDER BY position ASC
	`, svc.ID)
	if err != nil {
		return model.Service{}, fmt.Errorf("load pricing tiers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tier model.PricingTier
		if err := rows.Scan(&tier.Label, &tier.Price, &tier.Duration, &tier.Active); err != nil {
			return model.Service{}, err
		}
		svc.Tiers = append(svc.Tiers, tier)
	}
	if err := rows.Err(); err != nil {
		return model.Service{}, err
	}
	return svc, nil
}

func (p *PostgresProvider) Staff(ctx context.Context, staffID string) (model.Staff, error) {
	var s model.Staff
	err := p.db.QueryRow(ctx, `
		SELECT id, business_id, name, active
		FROM staff
		WHERE id = $1
	`, staffID).Scan(&s.ID, &s.BusinessID, &s.Name, &s.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Staff{}, apperr.NotFound("staff", staffID)
	}
	if err != nil {
		return model.Staff{}, fmt.Errorf("load staff: %w", err)
	}
	return s, nil
}
