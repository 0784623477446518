// Package services – StreakService
//
// The nightly streak batch. All day boundaries are computed in UTC: a user
// "read yesterday" when they own at least one item whose read_date falls in
// [yesterday 00:00, today 00:00) UTC. The batch touches the users table with
// two bulk statements instead of one query per user, and it is idempotent:
// last_read_date doubles as the evidence of whether a user was already
// processed today, so re-running after a crash never double-increments.
package services

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/go-shelf-backend/internal/domain"
)

// streakMilestones maps a streak length to the badge awarded when a user
// reaches it. Only exact hits fire, so each badge is awarded once per run-up.
var streakMilestones = map[int]string{
	7:   "week_warrior",
	30:  "monthly_master",
	100: "century_scholar",
	365: "yearly_champion",
}

var (
	streakIncrements = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streaks_incremented_total",
		Help: "Users whose streak was extended by the nightly batch.",
	})
	streakResets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streaks_reset_total",
		Help: "Users whose streak was reset by the nightly batch.",
	})
)

func init() {
	prometheus.MustRegister(streakIncrements, streakResets)
}

// StreakReport summarizes one batch run.
type StreakReport struct {
	RunDate     time.Time `json:"run_date"`
	Incremented int       `json:"incremented"`
	Reset       int       `json:"reset"`
	Milestones  int       `json:"milestones"`
}

// StreakService runs the nightly streak recomputation.
type StreakService struct {
	Store     Store
	Analytics Analytics
	Logger    zerolog.Logger

	now func() time.Time
}

// NewStreakService constructs a StreakService.
func NewStreakService(store Store) *StreakService {
	return &StreakService{Store: store, Logger: log.Logger, now: time.Now}
}

// Recompute extends the streak of every user who read yesterday (UTC) and
// resets everyone else with a positive streak. asOf is truncated to its UTC
// day, so callers can replay a specific date. A non-empty userIDs limits the
// batch to those users; nil recomputes everyone.
func (s *StreakService) Recompute(ctx context.Context, asOf time.Time, userIDs []domain.UserID) (*StreakReport, error) {
	tr := otel.Tracer("services/StreakService")
	ctx, span := tr.Start(ctx, "Recompute")
	defer span.End()

	now := s.now().UTC()
	today := asOf.UTC().Truncate(24 * time.Hour)
	yesterday := today.AddDate(0, 0, -1)
	span.SetAttributes(attribute.String("run_date", today.Format("2006-01-02")))

	readers, err := s.Store.UserIDsWithReadBetween(ctx, yesterday, today, userIDs)
	if err != nil {
		return nil, err
	}

	updates, err := s.Store.IncrementStreaks(ctx, readers, today, now)
	if err != nil {
		return nil, err
	}
	streakIncrements.Add(float64(len(updates)))

	milestones := 0
	for _, up := range updates {
		badge, ok := badgeFor(up.StreakDays)
		if !ok {
			continue
		}
		milestones++
		s.Logger.Info().
			Str("user_id", string(up.UserID)).
			Int("streak_days", up.StreakDays).
			Str("badge", badge).
			Msg("streak milestone achieved")
		if s.Analytics == nil {
			continue
		}
		if terr := s.Analytics.Track(ctx, up.UserID, "streak_milestone_achieved", map[string]any{
			"streak_days": up.StreakDays,
			"badge":       badge,
		}); terr != nil {
			s.Logger.Warn().Err(terr).Str("user_id", string(up.UserID)).Msg("milestone track failed")
		}
	}

	// Everyone who did not read yesterday lapses. Users incremented above
	// carry last_read_date = today and are naturally excluded by the strict
	// bound; anyone still stamped yesterday or earlier did not qualify (a
	// yesterday stamp comes from the previous run, not from reading).
	reset, err := s.Store.ResetExpiredStreaks(ctx, today, now, userIDs)
	if err != nil {
		return nil, err
	}
	streakResets.Add(float64(reset))

	report := &StreakReport{
		RunDate:     today,
		Incremented: len(updates),
		Reset:       int(reset),
		Milestones:  milestones,
	}
	s.Logger.Info().
		Str("run_date", today.Format("2006-01-02")).
		Int("incremented", report.Incremented).
		Int("reset", report.Reset).
		Int("milestones", report.Milestones).
		Msg("streak batch complete")
	return report, nil
}

// badgeFor returns the badge name for an exact streak length, if any.
func badgeFor(streakDays int) (string, bool) {
	badge, ok := streakMilestones[streakDays]
	return badge, ok
}

// RunNightly blocks, firing Recompute shortly after each UTC midnight until
// ctx is canceled. Intended to run in its own goroutine from main.
func (s *StreakService) RunNightly(ctx context.Context) {
	for {
		now := s.now().UTC()
		next := now.Truncate(24 * time.Hour).AddDate(0, 0, 1)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if _, err := s.Recompute(ctx, s.now(), nil); err != nil {
			s.Logger.Error().Err(err).Msg("nightly streak batch failed")
		}
	}
}
