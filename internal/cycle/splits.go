package cycle

import (
	"context"
	"errors"
	"fmt"

	"laundry-share-backend/internal/billing"
	"laundry-share-backend/internal/errs"
	"laundry-share-backend/internal/model"
	"laundry-share-backend/internal/notification"
	"laundry-share-backend/internal/store"
)

const (
	TitleSplitRequest  = "Split request"
	TitleSplitAccepted = "Split accepted"
	TitleSplitRejected = "Split rejected"
)

func (m *Manager) cycle(ctx context.Context, id int64) (*model.Cycle, error) {
	c, err := m.Store.GetCycle(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.New(errs.KindNotFound, "Cycle not found")
	}
	return c, err
}

// Split asks userIDs to share the cost of a closed cycle owned by owner.
func (m *Manager) Split(ctx context.Context, owner *model.User, cycleID int64, userIDs []int64) error {
	c, err := m.cycle(ctx, cycleID)
	if err != nil {
		return err
	}
	if !c.OwnedBy(owner.ID) {
		return errs.ErrForbidden
	}
	switch {
	case c.IsOpen():
		return errs.New(errs.KindSplitNotAllowed, "You cannot split a running cycle")
	case c.Paid:
		return errs.New(errs.KindSplitNotAllowed, "You cannot split paid cycles")
	}
	for _, s := range c.Splits {
		if s.Paid {
			return errs.New(errs.KindSplitNotAllowed, "You cannot split a cycle that has already been partially paid")
		}
	}

	seen := map[int64]bool{owner.ID: true}
	var recipients []*model.User
	for _, id := range userIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, exists := c.SplitFor(id); exists {
			continue
		}
		u, err := m.Store.GetUser(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return errs.New(errs.KindInvalidInput, fmt.Sprintf("Unknown user %d", id))
		}
		if err != nil {
			return err
		}
		recipients = append(recipients, u)
	}
	if len(recipients) == 0 {
		return errs.New(errs.KindInvalidInput, "Select at least one other user to split with")
	}

	ids := make([]int64, 0, len(recipients))
	for _, u := range recipients {
		ids = append(ids, u.ID)
	}
	if err := m.Store.CreateSplits(ctx, c.ID, ids); err != nil {
		if errors.Is(err, store.ErrSplitClosed) {
			return errs.New(errs.KindSplitNotAllowed, "This cycle was paid in the meantime and can no longer be split")
		}
		return err
	}

	share := billing.Share(c.CostValue(), len(c.Splits)+len(ids))
	body := fmt.Sprintf("%s wants to split a washing cycle with you. Your share is %.2f €.", owner.DisplayName(), share)
	for _, u := range recipients {
		m.Notifier.Notify(notification.To(u.ID), notification.NewWithActions(TitleSplitRequest, body, "/cycles",
			notification.Action{Name: "accept", Title: "Accept", URL: fmt.Sprintf("/api/cycles/%d/split/accept", c.ID)},
			notification.Action{Name: "reject", Title: "Reject", URL: fmt.Sprintf("/api/cycles/%d/split/reject", c.ID)},
		))
	}
	m.log.Infow("cycle split requested", "cycle", c.ID, "owner", owner.ID, "users", ids)
	return nil
}

// AcceptSplit confirms user's participation in cycleID.
func (m *Manager) AcceptSplit(ctx context.Context, user *model.User, cycleID int64) error {
	c, err := m.cycle(ctx, cycleID)
	if err != nil {
		return err
	}
	if _, ok := c.SplitFor(user.ID); !ok {
		return errs.New(errs.KindNotFound, "You have no split request for this cycle")
	}
	if err := m.Store.AcceptSplit(ctx, cycleID, user.ID); err != nil {
		return err
	}
	m.notifyOwner(c, TitleSplitAccepted, fmt.Sprintf("%s accepted your split request.", user.DisplayName()))
	return nil
}

// RejectSplit removes user from cycleID.
func (m *Manager) RejectSplit(ctx context.Context, user *model.User, cycleID int64) error {
	c, err := m.cycle(ctx, cycleID)
	if err != nil {
		return err
	}
	split, ok := c.SplitFor(user.ID)
	if !ok {
		return errs.New(errs.KindNotFound, "You have no split request for this cycle")
	}
	if split.Paid {
		return errs.New(errs.KindSplitNotAllowed, "You already paid your share of this cycle")
	}
	if err := m.Store.DeleteSplit(ctx, cycleID, user.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errs.New(errs.KindSplitNotAllowed, "You already paid your share of this cycle")
		}
		return err
	}
	m.notifyOwner(c, TitleSplitRejected, fmt.Sprintf("%s rejected your split request.", user.DisplayName()))
	return nil
}

func (m *Manager) notifyOwner(c *model.Cycle, title, body string) {
	if c.UserID == nil {
		return
	}
	m.Notifier.Notify(notification.To(*c.UserID), notification.NewWithURL(title, body, "/cycles"))
}

// MarkPaid settles the owner's portion of cycleID. Every split must have
// been accepted first.
func (m *Manager) MarkPaid(ctx context.Context, actor *model.User, cycleID int64) error {
	c, err := m.cycle(ctx, cycleID)
	if err != nil {
		return err
	}
	if !c.OwnedBy(actor.ID) && !actor.IsAdmin() {
		return errs.ErrForbidden
	}
	if c.IsOpen() {
		return errs.New(errs.KindInvalidInput, "A running cycle cannot be paid")
	}
	for _, s := range c.Splits {
		if !s.Accepted {
			return errs.ErrSplitsPending
		}
	}
	if err := m.Store.MarkCyclePaid(ctx, cycleID); err != nil {
		if errors.Is(err, store.ErrSplitsUnaccepted) {
			return errs.ErrSplitsPending
		}
		return err
	}
	return nil
}

// MarkSplitPaid settles userID's share of cycleID. Only that user or an
// admin may do this, and only for an accepted split.
func (m *Manager) MarkSplitPaid(ctx context.Context, actor *model.User, cycleID, userID int64) error {
	if actor.ID != userID && !actor.IsAdmin() {
		return errs.ErrForbidden
	}
	c, err := m.cycle(ctx, cycleID)
	if err != nil {
		return err
	}
	split, ok := c.SplitFor(userID)
	if !ok {
		return errs.New(errs.KindNotFound, "Split not found")
	}
	if !split.Accepted {
		return errs.New(errs.KindSplitsPending, "The split must be accepted before it can be marked as paid")
	}
	if err := m.Store.MarkSplitPaid(ctx, cycleID, userID); err != nil {
		switch {
		case errors.Is(err, store.ErrSplitsUnaccepted):
			return errs.New(errs.KindSplitsPending, "The split must be accepted before it can be marked as paid")
		case errors.Is(err, store.ErrNotFound):
			return errs.New(errs.KindNotFound, "Split not found")
		}
		return err
	}
	return nil
}
