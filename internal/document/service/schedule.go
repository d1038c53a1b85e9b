package service

import (
	"context"
	"time"

	dErrors "peppolrelay/pkg/domain-errors"
)

const (
	maxPerDay        = 4
	maxPerPartnerDay = 2
	immediateWindow  = time.Hour
)

// calculateSchedule decides when a new or rescheduled document becomes due.
// Unthrottled, that is the requested time or now.
//
// Throttled, while the balance is positive a request for "now" (or within the
// next hour) is honoured. Otherwise the document lands on the start of the
// requested day, at least tomorrow, pushed forward while the owner already
// has too many pending documents that day.
func (s *Service) calculateSchedule(ctx context.Context, ownerID, partnerID string, requested *time.Time) (time.Time, error) {
	now := s.now()
	if !s.throttle {
		if requested == nil {
			return now, nil
		}
		return *requested, nil
	}
	positive, err := s.balance.IsPositive(ctx)
	if err != nil {
		return time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read balance")
	}
	if positive && (requested == nil || requested.Before(now.Add(immediateWindow))) {
		return now, nil
	}

	base := now
	if requested != nil {
		base = *requested
	}
	day := startOfDay(base.In(s.loc))
	tomorrow := startOfDay(now.In(s.loc)).AddDate(0, 0, 1)
	if day.Before(tomorrow) {
		day = day.AddDate(0, 0, 1)
	}

	for {
		next := day.AddDate(0, 0, 1)
		full, err := s.dayIsFull(ctx, ownerID, partnerID, day, next)
		if err != nil {
			return time.Time{}, err
		}
		if !full {
			return day, nil
		}
		day = next
	}
}

func (s *Service) dayIsFull(ctx context.Context, ownerID, partnerID string, from, to time.Time) (bool, error) {
	perDay, err := s.store.CountPendingScheduled(ctx, ownerID, "", from, to)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count scheduled documents")
	}
	if perDay >= maxPerDay {
		return true, nil
	}
	perPartner, err := s.store.CountPendingScheduled(ctx, ownerID, partnerID, from, to)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count scheduled documents")
	}
	return perPartner >= maxPerPartnerDay, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
