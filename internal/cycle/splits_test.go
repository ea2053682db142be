package cycle

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"laundry-share-backend/internal/errs"
	"laundry-share-backend/internal/model"
	"laundry-share-backend/internal/notification"
	"laundry-share-backend/internal/store"
)

func TestSplitWorkflow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	c := f.closedCycle(t, f.alice, 1.00)

	assert.ErrorIs(t, f.mgr.Split(ctx, f.bob, c.ID, []int64{f.carol.ID}), errs.ErrForbidden)

	require.NoError(t, f.mgr.Split(ctx, f.alice, c.ID, []int64{f.bob.ID, f.carol.ID, f.alice.ID, f.bob.ID}))

	requests := f.notifier.Titled(TitleSplitRequest)
	require.Len(t, requests, 2)
	assert.Equal(t, notification.WithActions, requests[0].Notification.Kind)
	assert.Contains(t, requests[0].Notification.Body, "0.34")
	require.Len(t, requests[0].Notification.Actions, 2)
	assert.Equal(t, fmt.Sprintf("/api/cycles/%d/split/accept", c.ID), requests[0].Notification.Actions[0].URL)

	assert.ErrorIs(t, f.mgr.MarkPaid(ctx, f.alice, c.ID), errs.ErrSplitsPending)

	require.NoError(t, f.mgr.AcceptSplit(ctx, f.bob, c.ID))
	require.NoError(t, f.mgr.RejectSplit(ctx, f.carol, c.ID))
	assert.Len(t, f.notifier.Titled(TitleSplitAccepted), 1)
	assert.Len(t, f.notifier.Titled(TitleSplitRejected), 1)

	assert.ErrorIs(t, f.mgr.MarkSplitPaid(ctx, f.carol, c.ID, f.bob.ID), errs.ErrForbidden)
	require.NoError(t, f.mgr.MarkSplitPaid(ctx, f.bob, c.ID, f.bob.ID))

	require.NoError(t, f.mgr.MarkPaid(ctx, f.alice, c.ID))

	stored, err := f.store.GetCycle(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, stored.Paid)
	require.Len(t, stored.Splits, 1)
	assert.True(t, stored.Splits[0].Paid)

	err = f.mgr.Split(ctx, f.alice, c.ID, []int64{f.carol.ID})
	assert.ErrorIs(t, err, errs.ErrSplitNotAllowed)
}

func TestSplit_Rejections(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	c := f.closedCycle(t, f.alice, 2.00)

	err := f.mgr.Split(ctx, f.alice, c.ID, []int64{f.alice.ID})
	assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))

	err = f.mgr.Split(ctx, f.alice, c.ID, []int64{9999})
	assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))

	err = f.mgr.Split(ctx, f.alice, 9999, []int64{f.bob.ID})
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	open, err := f.mgr.Start(ctx, f.bob)
	require.NoError(t, err)
	err = f.mgr.Split(ctx, f.bob, open.ID, []int64{f.alice.ID})
	assert.ErrorIs(t, err, errs.ErrSplitNotAllowed)
}

func TestSplit_PaidSplitBlocksFurtherSplits(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	c := f.closedCycle(t, f.alice, 2.00)

	require.NoError(t, f.mgr.Split(ctx, f.alice, c.ID, []int64{f.bob.ID}))
	assert.ErrorIs(t, f.mgr.MarkSplitPaid(ctx, f.bob, c.ID, f.bob.ID), errs.ErrSplitsPending)
	require.NoError(t, f.mgr.AcceptSplit(ctx, f.bob, c.ID))
	require.NoError(t, f.mgr.MarkSplitPaid(ctx, f.admin, c.ID, f.bob.ID))

	assert.ErrorIs(t, f.mgr.Split(ctx, f.alice, c.ID, []int64{f.carol.ID}), errs.ErrSplitNotAllowed)
	assert.ErrorIs(t, f.mgr.RejectSplit(ctx, f.bob, c.ID), errs.ErrSplitNotAllowed)
}

func TestMarkPaid_AdminOrOwnerOnly(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	c := f.closedCycle(t, f.alice, 2.00)

	assert.ErrorIs(t, f.mgr.MarkPaid(ctx, f.bob, c.ID), errs.ErrForbidden)
	assert.NoError(t, f.mgr.MarkPaid(ctx, f.admin, c.ID))
}

func TestAcceptSplit_WithoutRequest(t *testing.T) {
	f := newFixture(t, nil)
	c := f.closedCycle(t, f.alice, 2.00)

	err := f.mgr.AcceptSplit(context.Background(), f.bob, c.ID)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

// splitRacingStore adds a pending split right after the cycle was read, as a
// concurrent Split request would.
type splitRacingStore struct {
	store.Store
	userID int64
}

func (s splitRacingStore) GetCycle(ctx context.Context, id int64) (*model.Cycle, error) {
	c, err := s.Store.GetCycle(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Store.CreateSplits(ctx, id, []int64{s.userID}); err != nil {
		return nil, err
	}
	return c, nil
}

func TestMarkPaid_SplitAddedAfterCheck(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	c := f.closedCycle(t, f.alice, 1.00)

	deps := f.mgr.Deps
	deps.Store = splitRacingStore{Store: f.store, userID: f.bob.ID}
	mgr := NewManager(f.mgr.cfg, deps, zap.NewNop().Sugar())

	assert.ErrorIs(t, mgr.MarkPaid(ctx, f.alice, c.ID), errs.ErrSplitsPending)

	stored, err := f.store.GetCycle(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, stored.Paid)
	require.Len(t, stored.Splits, 1)
	assert.False(t, stored.Splits[0].Accepted)
}
