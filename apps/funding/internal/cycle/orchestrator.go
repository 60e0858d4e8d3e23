// Package cycle runs merge cycles: it materialises the cycle calendar, claims due
// cycles and matches each currency in its own transaction.
package cycle

import (
	"context"
	"fmt"
	"time"

	"aside/apps/funding/internal/apperr"
	"aside/apps/funding/internal/events"
	"aside/apps/funding/internal/matching"
	"aside/apps/funding/internal/metrics"
	"aside/apps/funding/internal/model"
	"aside/apps/funding/internal/pool"
	"aside/apps/funding/internal/repository"
	"aside/apps/funding/internal/schedule"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const OriginCycle = "cycle"

type Options struct {
	Currencies    []string
	ProofDeadline time.Duration
	// RequireOptIn restricts candidates to opted-in or priority requests and makes a
	// cycle due when its join window closes rather than at its scheduled time.
	RequireOptIn bool
	PoolFallback bool
	HorizonDays  int
}

type Orchestrator struct {
	store    repository.Store
	calendar *schedule.Calendar
	pool     *pool.Pool
	opts     Options
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewOrchestrator(store repository.Store, calendar *schedule.Calendar, p *pool.Pool, opts Options, logger *zap.Logger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		store:    store,
		calendar: calendar,
		pool:     p,
		opts:     opts,
		logger:   logger,
		metrics:  m,
	}
}

// Report is the outcome of one processed cycle.
type Report struct {
	Cycle            model.MergeCycle `json:"cycle"`
	FailedCurrencies []string         `json:"failed_currencies,omitempty"`
}

// EnsureUpcoming creates a pending cycle for every merge window in the configured
// horizon. Windows that already have a cycle are left alone.
func (o *Orchestrator) EnsureUpcoming(ctx context.Context, now time.Time) (int, error) {
	created := 0
	err := o.store.InTx(ctx, func(r repository.Repositories) error {
		for _, w := range o.calendar.Upcoming(now, o.opts.HorizonDays) {
			ok, err := r.Cycles.Create(ctx, &model.MergeCycle{
				ID:               uuid.New(),
				ScheduledTime:    w.MergeAt,
				CutoffTime:       w.CutoffAt,
				JoinWindowCloses: w.JoinCloses,
				Status:           model.CyclePending,
				CreatedAt:        now,
			})
			if err != nil {
				return err
			}
			if ok {
				created++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to materialise merge cycles: %w", err)
	}
	if created > 0 {
		o.logger.Info("Created upcoming merge cycles", zap.Int("count", created))
	}
	return created, nil
}

// RunDue processes every pending cycle that is due at now, oldest first. A cycle that
// fails is logged and does not stop the others.
func (o *Orchestrator) RunDue(ctx context.Context, now time.Time) ([]Report, error) {
	var due []model.MergeCycle
	err := o.store.View(ctx, func(r repository.Repositories) error {
		var err error
		due, err = r.Cycles.ListDue(ctx, now, o.opts.RequireOptIn)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list due merge cycles: %w", err)
	}

	var reports []Report
	for _, c := range due {
		report, err := o.Run(ctx, c.ID, now)
		if err != nil {
			o.logger.Error("Failed to run merge cycle", zap.String("cycle_id", c.ID.String()), zap.Error(err))
			continue
		}
		if report != nil {
			reports = append(reports, *report)
		}
	}
	return reports, nil
}

// TriggerNow creates an ad-hoc cycle at now and runs it straight away.
func (o *Orchestrator) TriggerNow(ctx context.Context, now time.Time) (*Report, error) {
	c := &model.MergeCycle{
		ID:               uuid.New(),
		ScheduledTime:    now,
		CutoffTime:       now,
		JoinWindowCloses: now,
		Status:           model.CyclePending,
		CreatedAt:        now,
	}
	err := o.store.InTx(ctx, func(r repository.Repositories) error {
		ok, err := r.Cycles.Create(ctx, c)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("cycle_exists", "a merge cycle is already scheduled for this instant")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("Manually triggered merge cycle", zap.String("cycle_id", c.ID.String()))
	report, err := o.Run(ctx, c.ID, now)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, apperr.Conflict("cycle_claimed", "merge cycle was claimed by another worker")
	}
	return report, nil
}

// Run claims and processes one cycle. It returns a nil report without error when the
// cycle is not pending any more, which is what a worker losing the claim sees.
func (o *Orchestrator) Run(ctx context.Context, cycleID uuid.UUID, now time.Time) (*Report, error) {
	started := time.Now()

	var cycle *model.MergeCycle
	err := o.store.InTx(ctx, func(r repository.Repositories) error {
		claimed, err := r.Cycles.Claim(ctx, cycleID, now)
		if err != nil || !claimed {
			return err
		}
		cycle, err = r.Cycles.Get(ctx, cycleID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim merge cycle: %w", err)
	}
	if cycle == nil {
		o.logger.Debug("Merge cycle already claimed", zap.String("cycle_id", cycleID.String()))
		return nil, nil
	}
	o.logger.Info("Claimed merge cycle",
		zap.String("cycle_id", cycle.ID.String()),
		zap.Time("scheduled_time", cycle.ScheduledTime))

	var total model.CycleCounters
	var failed []string
	for _, currency := range o.opts.Currencies {
		var counters model.CycleCounters
		err := o.store.InTx(ctx, func(r repository.Repositories) error {
			var err error
			counters, err = o.runBatch(ctx, r, cycle, currency, now)
			if err != nil {
				return err
			}
			return r.Cycles.AddCounters(ctx, cycle.ID, counters)
		})
		if err != nil {
			o.logger.Error("Merge batch failed, rolled back",
				zap.String("cycle_id", cycle.ID.String()),
				zap.String("currency", currency),
				zap.Error(err))
			failed = append(failed, currency)
			continue
		}
		total = total.Add(counters)
		o.metrics.PairsCreated(OriginCycle, counters.MatchedPairs)
		o.logger.Info("Merge batch completed",
			zap.String("cycle_id", cycle.ID.String()),
			zap.String("currency", currency),
			zap.Int("matched_pairs", counters.MatchedPairs),
			zap.Int("unmatched_funding", counters.UnmatchedFunding),
			zap.Int("unmatched_withdrawal", counters.UnmatchedWithdrawal))
	}

	status := model.CycleCompleted
	eventType := events.CycleCompleted
	if len(failed) > 0 {
		status = model.CycleFailed
		eventType = events.CycleFailed
	}

	var finished *model.MergeCycle
	err = o.store.InTx(ctx, func(r repository.Repositories) error {
		if err := r.Cycles.Finish(ctx, cycle.ID, status, now); err != nil {
			return err
		}
		if err := events.Record(ctx, r.Outbox, eventType, events.AggregateCycle, cycle.ID, events.CycleData{
			CycleID:       cycle.ID,
			ScheduledTime: cycle.ScheduledTime,
			Counters:      total,
			FailedBatches: failed,
		}, now); err != nil {
			return err
		}
		var err error
		finished, err = r.Cycles.Get(ctx, cycle.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to finish merge cycle: %w", err)
	}

	o.metrics.CycleFinished(string(status), time.Since(started))
	o.logger.Info("Merge cycle finished",
		zap.String("cycle_id", cycle.ID.String()),
		zap.String("status", string(status)),
		zap.Int("matched_pairs", total.MatchedPairs),
		zap.Strings("failed_currencies", failed))
	return &Report{Cycle: *finished, FailedCurrencies: failed}, nil
}

// runBatch matches one currency inside the caller's transaction.
func (o *Orchestrator) runBatch(ctx context.Context, r repository.Repositories, cycle *model.MergeCycle, currency string, now time.Time) (model.CycleCounters, error) {
	var counters model.CycleCounters

	funders, err := o.candidates(ctx, r, model.SideFunding, currency, cycle.CutoffTime)
	if err != nil {
		return counters, err
	}
	withdrawers, err := o.candidates(ctx, r, model.SideWithdrawal, currency, cycle.CutoffTime)
	if err != nil {
		return counters, err
	}
	counters.TotalFundingRequests = len(funders)
	counters.TotalWithdrawalRequests = len(withdrawers)

	byID := make(map[uuid.UUID]*model.Request, len(funders)+len(withdrawers))
	for i := range funders {
		byID[funders[i].ID] = &funders[i]
	}
	for i := range withdrawers {
		byID[withdrawers[i].ID] = &withdrawers[i]
	}

	cycleRef := uuid.NullUUID{UUID: cycle.ID, Valid: true}
	touched := map[uuid.UUID]bool{}
	for _, p := range matching.Match(entries(funders), entries(withdrawers)) {
		pair := &model.MatchPair{
			ID:                  uuid.New(),
			FundingRequestID:    p.FunderID,
			WithdrawalRequestID: p.WithdrawerID,
			MergeCycleID:        cycle.ID,
			Currency:            currency,
			Amount:              p.Amount,
			ProofDeadline:       now.Add(o.opts.ProofDeadline),
			CreatedAt:           now,
		}
		if err := r.Pairs.Create(ctx, pair); err != nil {
			return counters, err
		}
		byID[p.FunderID].Consume(p.Amount, cycleRef, now)
		byID[p.WithdrawerID].Consume(p.Amount, cycleRef, now)
		touched[p.FunderID] = true
		touched[p.WithdrawerID] = true
		if err := events.RecordPair(ctx, r.Outbox, events.PairCreated, pair, "", now); err != nil {
			return counters, err
		}
		counters.MatchedPairs++
	}
	for id := range touched {
		if err := r.Requests.Update(ctx, byID[id]); err != nil {
			return counters, err
		}
	}

	if o.opts.PoolFallback {
		if err := o.poolFallback(ctx, r, funders, withdrawers, cycleRef, now, &counters); err != nil {
			return counters, err
		}
	}

	for i := range funders {
		if funders[i].Outstanding() {
			counters.UnmatchedFunding++
		}
	}
	for i := range withdrawers {
		if withdrawers[i].Outstanding() {
			counters.UnmatchedWithdrawal++
		}
	}
	return counters, nil
}

// poolFallback absorbs every leftover funding request, then pays out leftover
// withdrawals in arrival order as far as the pool balance allows.
func (o *Orchestrator) poolFallback(ctx context.Context, r repository.Repositories, funders, withdrawers []model.Request,
	cycleRef uuid.NullUUID, now time.Time, counters *model.CycleCounters) error {
	for i := range funders {
		if !funders[i].Outstanding() {
			continue
		}
		_, err := o.pool.Absorb(ctx, r, &funders[i], cycleRef, now)
		if apperr.KindOf(err) == apperr.KindConflict {
			continue
		}
		if err != nil {
			return err
		}
		counters.AdminWithdrew++
	}
	for i := range withdrawers {
		if !withdrawers[i].Outstanding() {
			continue
		}
		_, err := o.pool.PayOut(ctx, r, &withdrawers[i], cycleRef, now)
		if apperr.KindOf(err) == apperr.KindConflict {
			// rolls over to the next cycle untouched
			continue
		}
		if err != nil {
			return err
		}
		counters.AdminFunded++
	}
	return nil
}

func (o *Orchestrator) candidates(ctx context.Context, r repository.Repositories, side model.Side, currency string, cutoff time.Time) ([]model.Request, error) {
	all, err := r.Requests.ListOutstanding(ctx, side, currency, cutoff)
	if err != nil {
		return nil, err
	}
	if !o.opts.RequireOptIn {
		return all, nil
	}
	eligible := all[:0]
	for _, req := range all {
		if req.OptedIn || req.IsPriority {
			eligible = append(eligible, req)
		}
	}
	return eligible, nil
}

func entries(reqs []model.Request) []matching.Entry {
	out := make([]matching.Entry, 0, len(reqs))
	for _, req := range reqs {
		e := matching.Entry{ID: req.ID, Remaining: req.AmountRemaining, ArrivedAt: req.CreatedAt}
		if req.IsPriority && req.PriorityTimestamp != nil {
			e.Priority = true
			e.PriorityAt = *req.PriorityTimestamp
		}
		out = append(out, e)
	}
	return out
}
