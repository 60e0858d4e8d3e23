package matching

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Entry is one side's outstanding amount going into a match run.
// Remaining must be strictly positive; callers filter before calling Match.
type Entry struct {
	ID        uuid.UUID
	Remaining decimal.Decimal
	ArrivedAt time.Time

	// Priority entries are placed ahead of the rest, oldest PriorityAt first.
	Priority   bool
	PriorityAt time.Time
}

// Pairing is a slice of amount moved from one funder to one withdrawer.
type Pairing struct {
	FunderID     uuid.UUID
	WithdrawerID uuid.UUID
	Amount       decimal.Decimal
}

// Order sorts entries in matching order: priority entries first by PriorityAt,
// then everything else by remaining amount ascending, arrival breaking ties.
func Order(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority
		}
		if a.Priority {
			if !a.PriorityAt.Equal(b.PriorityAt) {
				return a.PriorityAt.Before(b.PriorityAt)
			}
			return a.ArrivedAt.Before(b.ArrivedAt)
		}
		if c := a.Remaining.Cmp(b.Remaining); c != 0 {
			return c < 0
		}
		return a.ArrivedAt.Before(b.ArrivedAt)
	})
	return out
}

// Match pairs funders with withdrawers greedily. Both sides are ordered with Order,
// then two cursors walk them, each step moving min(funder, withdrawer) and advancing
// whichever side reached zero. The pair amounts sum to min(total funders, total
// withdrawers) and there are at most len(funders)+len(withdrawers)-1 of them.
func Match(funders, withdrawers []Entry) []Pairing {
	fs := Order(funders)
	ws := Order(withdrawers)

	var pairings []Pairing
	i, j := 0, 0
	var fRemaining, wRemaining decimal.Decimal
	if len(fs) > 0 {
		fRemaining = fs[0].Remaining
	}
	if len(ws) > 0 {
		wRemaining = ws[0].Remaining
	}

	for i < len(fs) && j < len(ws) {
		amount := decimal.Min(fRemaining, wRemaining)
		pairings = append(pairings, Pairing{
			FunderID:     fs[i].ID,
			WithdrawerID: ws[j].ID,
			Amount:       amount,
		})
		fRemaining = fRemaining.Sub(amount)
		wRemaining = wRemaining.Sub(amount)

		if fRemaining.IsZero() {
			i++
			if i < len(fs) {
				fRemaining = fs[i].Remaining
			}
		}
		if wRemaining.IsZero() {
			j++
			if j < len(ws) {
				wRemaining = ws[j].Remaining
			}
		}
	}
	return pairings
}

// Residual returns how much of each entry's amount is left unpaired after pairings.
func Residual(entries []Entry, pairings []Pairing, funderSide bool) map[uuid.UUID]decimal.Decimal {
	left := make(map[uuid.UUID]decimal.Decimal, len(entries))
	for _, e := range entries {
		left[e.ID] = e.Remaining
	}
	for _, p := range pairings {
		id := p.WithdrawerID
		if funderSide {
			id = p.FunderID
		}
		if v, ok := left[id]; ok {
			left[id] = v.Sub(p.Amount)
		}
	}
	return left
}
