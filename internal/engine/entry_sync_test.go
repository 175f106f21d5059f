package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgupta-algo/tickrunner/internal/domain"
)

func testEntrySync(r *rig) *EntrySync {
	return NewEntrySync(r.entries, r.feed, time.Second, testLogger())
}

func TestEntrySyncSubscribesRowsCreatedWhileRunning(t *testing.T) {
	r := newRig()
	s := testEntrySync(r)
	ctx := context.Background()

	// Nothing awaiting yet: first pass is a no-op.
	s.sync(ctx)
	assert.Empty(t, r.feed.subs)

	// A row written by the intake after startup must get a feed subscription
	// on the next pass, not on the next restart.
	pe := awaitingEntry("pe1", 100, 50)
	require.NoError(t, r.entries.Create(ctx, pe))
	s.sync(ctx)

	require.Len(t, r.feed.subs, 1)
	assert.Equal(t, pe.Instrument, r.feed.subs[0])
}

func TestEntrySyncSubscribesEachRowOnce(t *testing.T) {
	r := newRig()
	s := testEntrySync(r)
	ctx := context.Background()

	require.NoError(t, r.entries.Create(ctx, awaitingEntry("pe1", 100, 50)))
	s.sync(ctx)
	s.sync(ctx)
	s.sync(ctx)

	assert.Len(t, r.feed.subs, 1, "repeated passes must not inflate the ref count")
}

func TestEntrySyncReleasesConsumedRows(t *testing.T) {
	r := newRig()
	s := testEntrySync(r)
	ctx := context.Background()

	pe := awaitingEntry("pe1", 100, 50)
	require.NoError(t, r.entries.Create(ctx, pe))
	s.sync(ctx)
	require.Len(t, r.feed.subs, 1)

	// Row gone (triggered, swept, or cancelled): the next pass drops the ref.
	require.NoError(t, r.entries.Delete(ctx, pe.ID))
	s.sync(ctx)

	require.Len(t, r.feed.unsubs, 1)
	assert.Equal(t, pe.Instrument, r.feed.unsubs[0])

	// And it is not released twice.
	s.sync(ctx)
	assert.Len(t, r.feed.unsubs, 1)
}

func TestSubscriptionsBalanceAcrossTradeLifetime(t *testing.T) {
	r := newRig()
	s := testEntrySync(r)
	ctx := context.Background()

	pe := awaitingEntry("pe1", 100, 50)
	require.NoError(t, r.entries.Create(ctx, pe))
	s.sync(ctx)

	// Trigger fires: the position takes its own reference and the row is
	// deleted; the sync pass then releases the entry's reference.
	r.trigger.OnTick(ctx, domain.Tick{ScripCode: 100, LTP: 50.0, At: time.Now()})
	s.sync(ctx)

	positions, err := r.positions.ListByStatus(ctx, domain.StatusEntrySubmitted)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	p := positions[0]

	// Entry fills, the stop is hit, the exit fills: terminal release.
	require.NoError(t, r.lifecycle.OnEntryFilled(ctx, p.ID, 50.0))
	require.NoError(t, r.lifecycle.ClaimAndExit(ctx, mustGet(t, r, p.ID), 44.9, domain.ExitReasonStopLoss))
	require.NoError(t, r.lifecycle.OnExitFilled(ctx, p.ID, 44.9))

	// No pending entry and no position remain, so every reference taken must
	// have been released.
	assert.Len(t, r.feed.subs, 2)
	assert.Len(t, r.feed.unsubs, 2)
}

func mustGet(t *testing.T, r *rig, id string) domain.Position {
	t.Helper()
	p, err := r.positions.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p
}
