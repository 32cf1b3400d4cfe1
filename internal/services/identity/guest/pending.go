package guest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/user"
	"github.com/golang/glog"
)

// Invite is handed to a Notifier when a pending conversion is created.
type Invite struct {
	Email     string
	FirstName string
	GuestID   string
	ExpiresAt time.Time
}

// Notifier delivers conversion invites.
type Notifier interface {
	SendConversionInvite(ctx context.Context, invite Invite) error
}

type nopNotifier struct{}

func (nopNotifier) SendConversionInvite(context.Context, Invite) error { return nil }

// CreatePendingConversion records that the guest will finish conversion on
// another device after proving control of email. A later call for the same
// email replaces the earlier record.
func (e *Engine) CreatePendingConversion(ctx context.Context, guestID, email string) (PendingConversion, error) {
	ctx, span := tracer.Start(ctx, "guest.CreatePendingConversion")
	defer span.End()

	normalized, err := user.NormalizeEmail(email)
	if err != nil {
		return PendingConversion{}, err
	}
	g, err := e.loadConvertible(ctx, guestID)
	if err != nil {
		return PendingConversion{}, err
	}

	now := e.now().UTC()
	pending := PendingConversion{
		Email:     normalized,
		GuestID:   g.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(e.pendingTTL),
	}
	if err := e.docs.Set(ctx, PendingPath(normalized), pending); err != nil {
		return PendingConversion{}, fmt.Errorf("store pending conversion: %w", err)
	}

	invite := Invite{Email: normalized, FirstName: g.FirstName, GuestID: g.ID, ExpiresAt: pending.ExpiresAt}
	if err := e.notifier.SendConversionInvite(ctx, invite); err != nil {
		glog.Warningf("conversion invite for guest %s not delivered: %v", g.ID, err)
	}
	return pending, nil
}

// CompleteGuestConversion redeems the pending conversion stored for email
// into the verified account. Expired records are removed on read.
func (e *Engine) CompleteGuestConversion(ctx context.Context, email string, acct Account) (Result, error) {
	ctx, span := tracer.Start(ctx, "guest.CompleteGuestConversion")
	defer span.End()

	if err := acct.validate(); err != nil {
		return Result{}, err
	}
	normalized, err := user.NormalizeEmail(email)
	if err != nil {
		return Result{}, ErrPendingNotFound
	}
	pending, err := e.loadPending(ctx, normalized)
	if err != nil {
		return Result{}, err
	}
	if !e.now().Before(pending.ExpiresAt) {
		if err := e.docs.Delete(ctx, PendingPath(normalized)); err != nil {
			glog.Warningf("delete expired pending conversion %s: %v", normalized, err)
		}
		return Result{}, ErrPendingNotFound
	}

	g, err := e.loadConvertible(ctx, pending.GuestID)
	if err != nil {
		return Result{}, err
	}
	if acct.Email == "" {
		acct.Email = normalized
	}
	return e.migrate(ctx, g, acct, PendingPath(normalized))
}

func (e *Engine) loadPending(ctx context.Context, email string) (PendingConversion, error) {
	snap, err := e.docs.Get(ctx, PendingPath(email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return PendingConversion{}, ErrPendingNotFound
		}
		return PendingConversion{}, fmt.Errorf("load pending conversion: %w", err)
	}
	var pending PendingConversion
	if err := snap.DataTo(&pending); err != nil {
		return PendingConversion{}, fmt.Errorf("decode pending conversion: %w", err)
	}
	return pending, nil
}

// SweepPendingConversions deletes every pending conversion that expired at
// or before now and returns how many were removed.
func (e *Engine) SweepPendingConversions(ctx context.Context, now time.Time) (int, error) {
	snaps, err := e.docs.Query(ctx, storage.Query{Collection: PendingCollection})
	if err != nil {
		return 0, fmt.Errorf("list pending conversions: %w", err)
	}
	var expired []string
	for _, snap := range snaps {
		var p PendingConversion
		if err := snap.DataTo(&p); err != nil || !now.Before(p.ExpiresAt) {
			expired = append(expired, snap.Path)
		}
	}
	if err := storage.DeleteAll(ctx, e.docs, expired); err != nil {
		return 0, fmt.Errorf("sweep pending conversions: %w", err)
	}
	return len(expired), nil
}
