package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgupta-algo/tickrunner/internal/domain"
)

func TestClassifyRecords(t *testing.T) {
	tests := []struct {
		name    string
		records []domain.OrderRecord
		want    orderClass
	}{
		{"no records", nil, classNoRecords},
		{"executed", []domain.OrderRecord{{OrderStatus: "Fully Executed"}}, classExecuted},
		{"executed lowercase", []domain.OrderRecord{{OrderStatus: "executed"}}, classExecuted},
		{"rejected", []domain.OrderRecord{{OrderStatus: "Rejected by RMS"}}, classRejected},
		{"pending", []domain.OrderRecord{{OrderStatus: "Pending"}}, classPending},
		{"in process", []domain.OrderRecord{{OrderStatus: "In Process"}}, classPending},
		{"partial counts as pending", []domain.OrderRecord{{OrderStatus: "Partially Executed"}}, classPending},
		{
			"executed wins over pending",
			[]domain.OrderRecord{{OrderStatus: "Pending"}, {OrderStatus: "Fully Executed", AvgPrice: 10}},
			classExecuted,
		},
		{
			"rejected wins over pending",
			[]domain.OrderRecord{{OrderStatus: "Pending"}, {OrderStatus: "Rejected"}},
			classRejected,
		},
		{"unknown status", []domain.OrderRecord{{OrderStatus: "Gibberish"}}, classNoRecords},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			class, _ := classifyRecords(tc.records)
			assert.Equal(t, tc.want, class)
		})
	}
}

func TestReconcilerResolvesEntryFill(t *testing.T) {
	r := newRig()
	ctx := context.Background()

	p := openPosition("p1", 100, 50, 45, 60)
	p.Status = domain.StatusEntrySubmitted
	require.NoError(t, r.positions.Create(ctx, p))

	r.broker.historyFn = func(string) ([]domain.OrderRecord, error) {
		return []domain.OrderRecord{{OrderStatus: "Fully Executed", AvgPrice: 50.35, ExecQty: 75}}, nil
	}

	r.reconciler.Monitor(ctx, p.ID, p.OrderID)

	require.Eventually(t, func() bool {
		got, err := r.positions.GetByID(ctx, p.ID)
		return err == nil && got.Status == domain.StatusOpen
	}, time.Second, 2*time.Millisecond)

	got, _ := r.positions.GetByID(ctx, p.ID)
	assert.InDelta(t, 50.35, got.EntryPrice, 1e-9)
}

func TestReconcilerFallsBackToOrderPrice(t *testing.T) {
	r := newRig()
	ctx := context.Background()

	p := openPosition("p1", 100, 50, 45, 60)
	p.Status = domain.StatusEntrySubmitted
	require.NoError(t, r.positions.Create(ctx, p))

	r.broker.historyFn = func(string) ([]domain.OrderRecord, error) {
		return []domain.OrderRecord{{OrderStatus: "Fully Executed", AvgPrice: 0, OrderPrice: 50.1}}, nil
	}

	r.reconciler.Monitor(ctx, p.ID, p.OrderID)

	require.Eventually(t, func() bool {
		got, err := r.positions.GetByID(ctx, p.ID)
		return err == nil && got.Status == domain.StatusOpen
	}, time.Second, 2*time.Millisecond)

	got, _ := r.positions.GetByID(ctx, p.ID)
	assert.InDelta(t, 50.1, got.EntryPrice, 1e-9)
}

func TestReconcilerResolvesExitRejection(t *testing.T) {
	r := newRig()
	ctx := context.Background()

	p := openPosition("p1", 100, 50, 45, 60)
	p.Status = domain.StatusExitSubmitted
	p.ExitOrderID = "EXIT-1"
	require.NoError(t, r.positions.Create(ctx, p))

	r.broker.historyFn = func(string) ([]domain.OrderRecord, error) {
		return []domain.OrderRecord{{OrderStatus: "Rejected"}}, nil
	}

	r.reconciler.Monitor(ctx, p.ID, "EXIT-1")

	require.Eventually(t, func() bool {
		got, err := r.positions.GetByID(ctx, p.ID)
		return err == nil && got.Status == domain.StatusExitFailed
	}, time.Second, 2*time.Millisecond)
}

func TestReconcilerTimesOutWithoutGuessing(t *testing.T) {
	r := newRig()
	ctx := context.Background()

	p := openPosition("p1", 100, 50, 45, 60)
	p.Status = domain.StatusEntrySubmitted
	require.NoError(t, r.positions.Create(ctx, p))

	// Broker never returns records; the poll window closes with the position
	// untouched.
	r.reconciler.Monitor(ctx, p.ID, p.OrderID)
	time.Sleep(200 * time.Millisecond)

	got, err := r.positions.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEntrySubmitted, got.Status)

	// The slot is free again for a later retry.
	r.reconciler.mu.Lock()
	active := len(r.reconciler.active)
	r.reconciler.mu.Unlock()
	assert.Zero(t, active)
}

func TestReconcilerDedupesByOrderID(t *testing.T) {
	r := newRig()
	ctx := context.Background()

	p := openPosition("p1", 100, 50, 45, 60)
	p.Status = domain.StatusEntrySubmitted
	require.NoError(t, r.positions.Create(ctx, p))

	r.reconciler.Monitor(ctx, p.ID, p.OrderID)
	r.reconciler.Monitor(ctx, p.ID, p.OrderID)
	r.reconciler.Monitor(ctx, p.ID, p.OrderID)

	r.reconciler.mu.Lock()
	active := len(r.reconciler.active)
	r.reconciler.mu.Unlock()
	assert.Equal(t, 1, active)
}

func TestReconcilerChasesEntryPrice(t *testing.T) {
	r := newRig()
	ctx := context.Background()

	p := openPosition("p1", 100, 50, 45, 60)
	p.Status = domain.StatusEntrySubmitted
	require.NoError(t, r.positions.Create(ctx, p))

	cred, _ := fakeCreds{}.Credential(ctx, "cred-1")

	// Market ran above the resting buy.
	require.NoError(t, r.cache.SetLTP(ctx, 100, 51.5, time.Now()))
	r.reconciler.chasePending(ctx, cred, p, p.OrderID, domain.SideBuy, 50)
	assert.Equal(t, 1, r.broker.modifyCalls)

	// LTP at or below the resting price is left alone.
	require.NoError(t, r.cache.SetLTP(ctx, 100, 49.0, time.Now()))
	r.reconciler.chasePending(ctx, cred, p, p.OrderID, domain.SideBuy, 50)
	assert.Equal(t, 1, r.broker.modifyCalls)

	// History without an order price falls back to the trigger price.
	require.NoError(t, r.cache.SetLTP(ctx, 100, 51.5, time.Now()))
	r.reconciler.chasePending(ctx, cred, p, p.OrderID, domain.SideBuy, 0)
	assert.Equal(t, 2, r.broker.modifyCalls)
}

func TestReconcilerChasesExitPrice(t *testing.T) {
	r := newRig()
	ctx := context.Background()

	p := openPosition("p1", 100, 50, 45, 60)
	p.Status = domain.StatusExitSubmitted
	p.ExitOrderID = "EXIT-1"
	require.NoError(t, r.positions.Create(ctx, p))

	cred, _ := fakeCreds{}.Credential(ctx, "cred-1")

	// Market fell below the resting sell: lower it to the LTP.
	require.NoError(t, r.cache.SetLTP(ctx, 100, 58.2, time.Now()))
	r.reconciler.chasePending(ctx, cred, p, "EXIT-1", domain.SideSell, 60)
	assert.Equal(t, 1, r.broker.modifyCalls)

	// LTP at or above the resting price is left alone.
	require.NoError(t, r.cache.SetLTP(ctx, 100, 60.5, time.Now()))
	r.reconciler.chasePending(ctx, cred, p, "EXIT-1", domain.SideSell, 60)
	assert.Equal(t, 1, r.broker.modifyCalls)

	// A sell with no known resting price is never blindly re-priced.
	require.NoError(t, r.cache.SetLTP(ctx, 100, 58.2, time.Now()))
	r.reconciler.chasePending(ctx, cred, p, "EXIT-1", domain.SideSell, 0)
	assert.Equal(t, 1, r.broker.modifyCalls)
}
