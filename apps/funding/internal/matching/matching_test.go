package matching

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func entry(amount int64, arrivedMin int) Entry {
	return Entry{
		ID:        uuid.New(),
		Remaining: decimal.NewFromInt(amount),
		ArrivedAt: base.Add(time.Duration(arrivedMin) * time.Minute),
	}
}

func sum(pairings []Pairing) decimal.Decimal {
	total := decimal.Zero
	for _, p := range pairings {
		total = total.Add(p.Amount)
	}
	return total
}

func TestMatch_EqualAmounts(t *testing.T) {
	f := entry(5000, 0)
	w := entry(5000, 1)

	pairings := Match([]Entry{f}, []Entry{w})

	require.Len(t, pairings, 1)
	assert.Equal(t, f.ID, pairings[0].FunderID)
	assert.Equal(t, w.ID, pairings[0].WithdrawerID)
	assert.True(t, decimal.NewFromInt(5000).Equal(pairings[0].Amount))
}

func TestMatch_SplitsFunderAcrossWithdrawers(t *testing.T) {
	f := entry(7000, 0)
	w4 := entry(4000, 1)
	w3 := entry(3000, 2)

	pairings := Match([]Entry{f}, []Entry{w4, w3})

	require.Len(t, pairings, 2)
	assert.Equal(t, w3.ID, pairings[0].WithdrawerID)
	assert.True(t, decimal.NewFromInt(3000).Equal(pairings[0].Amount))
	assert.Equal(t, w4.ID, pairings[1].WithdrawerID)
	assert.True(t, decimal.NewFromInt(4000).Equal(pairings[1].Amount))
}

func TestMatch_EmptySides(t *testing.T) {
	assert.Empty(t, Match(nil, []Entry{entry(1000, 0)}))
	assert.Empty(t, Match([]Entry{entry(1000, 0)}, nil))
}

func TestOrder_TieBreaksOnArrival(t *testing.T) {
	late := entry(2000, 10)
	early := entry(2000, 1)
	small := entry(1500, 20)

	ordered := Order([]Entry{late, early, small})

	assert.Equal(t, []uuid.UUID{small.ID, early.ID, late.ID},
		[]uuid.UUID{ordered[0].ID, ordered[1].ID, ordered[2].ID})
}

func TestOrder_PriorityFirst(t *testing.T) {
	small := entry(1000, 0)
	big := entry(9000, 5)
	big.Priority = true
	big.PriorityAt = base.Add(time.Hour)
	older := entry(8000, 6)
	older.Priority = true
	older.PriorityAt = base

	ordered := Order([]Entry{small, big, older})

	assert.Equal(t, []uuid.UUID{older.ID, big.ID, small.ID},
		[]uuid.UUID{ordered[0].ID, ordered[1].ID, ordered[2].ID})
}

func TestMatch_PriorityWithdrawalServedFirst(t *testing.T) {
	f := entry(5000, 0)
	normal := entry(2000, 1)
	requeued := entry(5000, 2)
	requeued.Priority = true
	requeued.PriorityAt = base

	pairings := Match([]Entry{f}, []Entry{normal, requeued})

	require.Len(t, pairings, 1)
	assert.Equal(t, requeued.ID, pairings[0].WithdrawerID)
}

func TestMatch_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		funders := randomEntries(rng, rng.Intn(8))
		withdrawers := randomEntries(rng, rng.Intn(8))
		if round%5 == 0 && len(withdrawers) > 0 {
			withdrawers[0].Priority = true
			withdrawers[0].PriorityAt = base
		}

		pairings := Match(funders, withdrawers)

		fTotal, wTotal := total(funders), total(withdrawers)
		assert.True(t, decimal.Min(fTotal, wTotal).Equal(sum(pairings)), "round %d", round)

		if len(funders) > 0 && len(withdrawers) > 0 {
			assert.LessOrEqual(t, len(pairings), len(funders)+len(withdrawers)-1)
		}

		fLeft := Residual(funders, pairings, true)
		wLeft := Residual(withdrawers, pairings, false)
		fResidual, wResidual := false, false
		for _, v := range fLeft {
			assert.False(t, v.IsNegative())
			fResidual = fResidual || v.IsPositive()
		}
		for _, v := range wLeft {
			assert.False(t, v.IsNegative())
			wResidual = wResidual || v.IsPositive()
		}
		assert.False(t, fResidual && wResidual, "only one side may keep a residual")

		for _, p := range pairings {
			assert.True(t, p.Amount.IsPositive())
		}
	}
}

func randomEntries(rng *rand.Rand, n int) []Entry {
	entries := make([]Entry, n)
	for i := range entries {
		entries[i] = entry(int64(1000+rng.Intn(20)*500), rng.Intn(60))
	}
	return entries
}

func total(entries []Entry) decimal.Decimal {
	t := decimal.Zero
	for _, e := range entries {
		t = t.Add(e.Remaining)
	}
	return t
}
