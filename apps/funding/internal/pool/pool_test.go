package pool

import (
	"context"
	"testing"
	"time"

	"aside/apps/funding/internal/apperr"
	"aside/apps/funding/internal/events"
	"aside/apps/funding/internal/model"
	"aside/apps/funding/internal/repository"
	"aside/apps/funding/internal/repository/memstore"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

func seed(store *memstore.Store, side model.Side, balance, amount int64) (model.Wallet, model.Request) {
	w := model.Wallet{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		Currency:       "NAIRA",
		Balance:        decimal.NewFromInt(balance),
		TotalDeposited: decimal.Zero,
	}
	store.PutWallet(w)
	r := model.Request{
		ID:              uuid.New(),
		Side:            side,
		WalletID:        w.ID,
		UserID:          w.UserID,
		Currency:        "NAIRA",
		Amount:          decimal.NewFromInt(amount),
		AmountRemaining: decimal.NewFromInt(amount),
		CreatedAt:       now.Add(-time.Hour),
	}
	store.PutRequest(r)
	return w, r
}

func settle(t *testing.T, store *memstore.Store, id uuid.UUID) (*Result, error) {
	t.Helper()
	p := New(zap.NewNop(), nil)
	var res *Result
	err := store.InTx(context.Background(), func(r repository.Repositories) error {
		req, err := r.Requests.GetForUpdate(context.Background(), id)
		require.NoError(t, err)
		res, err = p.Settle(context.Background(), r, req, uuid.NullUUID{}, now)
		return err
	})
	return res, err
}

func TestAbsorb(t *testing.T) {
	store := memstore.New()
	store.PutPool("NAIRA", decimal.NewFromInt(1000))
	w, req := seed(store, model.SideFunding, 0, 5000)

	res, err := settle(t, store, req.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(6000).Equal(res.PoolBalance))

	pool := store.Pool("NAIRA")
	assert.True(t, decimal.NewFromInt(6000).Equal(pool.Balance))
	assert.True(t, decimal.NewFromInt(5000).Equal(pool.TotalReceived))

	wallet := store.Wallet(w.ID)
	assert.True(t, decimal.NewFromInt(5000).Equal(wallet.Balance))
	assert.True(t, decimal.NewFromInt(5000).Equal(wallet.TotalDeposited))

	stored, _ := store.Request(req.ID)
	assert.True(t, stored.AmountRemaining.IsZero())
	assert.True(t, stored.IsFullyMatched)
	assert.True(t, stored.IsCompleted)

	logs := store.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, model.BalanceDeposit, logs[0].Type)

	evs := store.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, events.PoolAbsorbed, evs[0].EventType)
}

func TestPayOut(t *testing.T) {
	store := memstore.New()
	store.PutPool("NAIRA", decimal.NewFromInt(10000))
	w, req := seed(store, model.SideWithdrawal, 8000, 4000)

	_, err := settle(t, store, req.ID)
	require.NoError(t, err)

	pool := store.Pool("NAIRA")
	assert.True(t, decimal.NewFromInt(6000).Equal(pool.Balance))
	assert.True(t, decimal.NewFromInt(4000).Equal(pool.TotalFunded))
	assert.True(t, decimal.NewFromInt(4000).Equal(store.Wallet(w.ID).Balance))

	stored, _ := store.Request(req.ID)
	assert.True(t, stored.IsCompleted)
	assert.Equal(t, model.BalanceWithdrawal, store.Logs()[0].Type)
}

func TestPayOut_PoolInsufficient(t *testing.T) {
	store := memstore.New()
	store.PutPool("NAIRA", decimal.NewFromInt(100))
	w, req := seed(store, model.SideWithdrawal, 8000, 4000)

	_, err := settle(t, store, req.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, "pool_insufficient"))

	assert.True(t, decimal.NewFromInt(100).Equal(store.Pool("NAIRA").Balance))
	assert.True(t, decimal.NewFromInt(8000).Equal(store.Wallet(w.ID).Balance))
	stored, _ := store.Request(req.ID)
	assert.True(t, decimal.NewFromInt(4000).Equal(stored.AmountRemaining))
	assert.Empty(t, store.Events())
}

func TestSettle_LeavesRequestOpenWhilePeerPairsPending(t *testing.T) {
	store := memstore.New()
	_, req := seed(store, model.SideFunding, 0, 5000)
	req.AmountRemaining = decimal.NewFromInt(2000)
	store.PutRequest(req)
	store.PutPair(model.MatchPair{
		ID:                  uuid.New(),
		FundingRequestID:    req.ID,
		WithdrawalRequestID: uuid.New(),
		Currency:            "NAIRA",
		Amount:              decimal.NewFromInt(3000),
		ProofDeadline:       now.Add(time.Hour),
	})

	res, err := settle(t, store, req.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(2000).Equal(res.Amount))

	stored, _ := store.Request(req.ID)
	assert.True(t, stored.IsFullyMatched)
	assert.False(t, stored.IsCompleted)
}

func TestSettle_NothingRemaining(t *testing.T) {
	store := memstore.New()
	_, req := seed(store, model.SideFunding, 0, 5000)
	req.AmountRemaining = decimal.Zero
	req.IsFullyMatched = true
	store.PutRequest(req)

	_, err := settle(t, store, req.ID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestSettle_RejectsBlockedWallet(t *testing.T) {
	store := memstore.New()
	store.PutPool("NAIRA", decimal.NewFromInt(10000))

	for _, side := range []model.Side{model.SideFunding, model.SideWithdrawal} {
		w, req := seed(store, side, 5000, 5000)
		w.IsBlocked = true
		w.BlockReason = "missed payment proof deadline"
		store.PutWallet(w)

		_, err := settle(t, store, req.ID)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, "wallet_blocked"))

		assert.True(t, decimal.NewFromInt(5000).Equal(store.Wallet(w.ID).Balance))
		stored, _ := store.Request(req.ID)
		assert.True(t, decimal.NewFromInt(5000).Equal(stored.AmountRemaining))
	}
	assert.True(t, decimal.NewFromInt(10000).Equal(store.Pool("NAIRA").Balance))
}
