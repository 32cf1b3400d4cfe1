package guest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Natural-Highs/live-sub000/internal/platform/errors"
	platformotel "github.com/Natural-Highs/live-sub000/internal/platform/otel"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/user"
	"github.com/golang/glog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = platformotel.Tracer("identity/guest")

// DefaultPendingTTL is how long a deferred conversion stays redeemable.
const DefaultPendingTTL = 24 * time.Hour

var (
	// ErrGuestNotFound indicates the guest record is missing.
	ErrGuestNotFound = apperrors.NotFound("guest not found")
	// ErrAlreadyConverted indicates the guest already belongs to an account.
	ErrAlreadyConverted = apperrors.Conflict("guest already converted")
	// ErrPendingNotFound covers both missing and expired pending conversions.
	ErrPendingNotFound = apperrors.NotFound("pending conversion not found or expired")
	// ErrConversionInProgress indicates another account holds a live claim
	// on the guest's migration.
	ErrConversionInProgress = apperrors.Conflict("guest conversion already in progress")
)

// ConversionLease is how long a conversion claim blocks other accounts. A
// claim older than this belongs to an attempt that stopped between batches
// and may be taken over.
const ConversionLease = 10 * time.Minute

// Engine converts guests into accounts.
type Engine struct {
	docs       storage.Store
	notifier   Notifier
	pendingTTL time.Duration
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sends an invite whenever a pending conversion is created.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithPendingTTL overrides DefaultPendingTTL.
func WithPendingTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.pendingTTL = ttl
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine returns a conversion engine over docs.
func NewEngine(docs storage.Store, opts ...Option) *Engine {
	e := &Engine{
		docs:       docs,
		notifier:   nopNotifier{},
		pendingTTL: DefaultPendingTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// ConvertSameSession migrates guestID into the account the caller already
// authenticated as.
func (e *Engine) ConvertSameSession(ctx context.Context, guestID string, acct Account) (Result, error) {
	ctx, span := tracer.Start(ctx, "guest.ConvertSameSession")
	defer span.End()

	if err := acct.validate(); err != nil {
		return Result{}, err
	}
	g, err := e.loadConvertible(ctx, guestID)
	if err != nil {
		return Result{}, err
	}
	return e.migrate(ctx, g, acct, "")
}

// LoadGuest reads a guest record.
func (e *Engine) LoadGuest(ctx context.Context, guestID string) (Guest, error) {
	if strings.TrimSpace(guestID) == "" {
		return Guest{}, ErrGuestNotFound
	}
	snap, err := e.docs.Get(ctx, Path(guestID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Guest{}, ErrGuestNotFound
		}
		return Guest{}, fmt.Errorf("load guest %s: %w", guestID, err)
	}
	var g Guest
	if err := snap.DataTo(&g); err != nil {
		return Guest{}, fmt.Errorf("decode guest %s: %w", guestID, err)
	}
	g.ID = snap.ID()
	return g, nil
}

func (e *Engine) loadConvertible(ctx context.Context, guestID string) (Guest, error) {
	g, err := e.LoadGuest(ctx, guestID)
	if err != nil {
		return Guest{}, err
	}
	if g.Converted() {
		return Guest{}, ErrAlreadyConverted
	}
	return g, nil
}

func (a Account) validate() error {
	if strings.TrimSpace(a.UserID) == "" {
		return apperrors.Validation("user id is required")
	}
	return nil
}

// migrate copies every event of g into userEvents, one transaction per
// batch. Each transaction re-reads the guest and writes the caller's claim, so
// a second conversion that passed the pre-check stops at its first batch
// instead of rewriting events another account already owns. The converted
// marker (and the pendingPath delete, when set) lands only in the last batch.
func (e *Engine) migrate(ctx context.Context, g Guest, acct Account, pendingPath string) (Result, error) {
	events, err := e.docs.Query(ctx, storage.Query{
		Collection: EventsCollection,
		Filters:    []storage.Filter{{Field: "guestId", Value: g.ID}},
		OrderBy:    "createdAt",
	})
	if err != nil {
		return Result{}, fmt.Errorf("list guest events: %w", err)
	}
	accountDoc, err := e.accountDocument(ctx, g, acct)
	if err != nil {
		return Result{}, err
	}

	fixedOps := sameSessionFixedOps
	if pendingPath != "" {
		fixedOps = pendingFixedOps
	}
	spans := planBatches(len(events), fixedOps)
	migratedAt := e.now().UTC()

	for i, sp := range spans {
		first, last := i == 0, i == len(spans)-1
		chunk := events[sp.start:sp.end]
		err := e.docs.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
			now := e.now().UTC()
			if err := e.checkClaim(tx, g.ID, acct.UserID, now); err != nil {
				return err
			}
			if first {
				if err := tx.Set(user.Path(acct.UserID), accountDoc, storage.Merge()); err != nil {
					return err
				}
			}
			for _, ev := range chunk {
				if err := tx.Set(UserEventPath(ev.ID()), migratedEvent(ev, acct.UserID, migratedAt)); err != nil {
					return err
				}
			}
			if !last {
				return tx.Update(Path(g.ID), []storage.Update{
					{Path: "conversionClaimedBy", Value: acct.UserID},
					{Path: "conversionClaimedAt", Value: now},
				})
			}
			if err := tx.Update(Path(g.ID), []storage.Update{
				{Path: "convertedToUserId", Value: acct.UserID},
				{Path: "convertedAt", Value: migratedAt},
				{Path: "conversionClaimedBy", Value: acct.UserID},
				{Path: "conversionClaimedAt", Value: now},
			}); err != nil {
				return err
			}
			if pendingPath != "" {
				return tx.Delete(pendingPath)
			}
			return nil
		})
		if err != nil {
			if apperrors.GetCode(err) != apperrors.CodeUnknown {
				return Result{}, err
			}
			return Result{}, fmt.Errorf("commit conversion batch %d/%d: %w", i+1, len(spans), err)
		}
		if !last {
			glog.V(1).Infof("guest %s: batch %d/%d migrated %d events", g.ID, i+1, len(spans), len(chunk))
		}
	}

	glog.Infof("guest %s converted to user %s: %d events in %d batches", g.ID, acct.UserID, len(events), len(spans))
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("guest.migrated_events", len(events)),
		attribute.Int("guest.batches", len(spans)),
	)
	return Result{Success: true, MigratedEventCount: len(events)}, nil
}

// checkClaim reads the guest inside tx and fails when it is converted or
// when a different account holds a live claim on it.
func (e *Engine) checkClaim(tx storage.Tx, guestID, uid string, now time.Time) error {
	snap, err := tx.Get(Path(guestID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrGuestNotFound
		}
		return err
	}
	var current Guest
	if err := snap.DataTo(&current); err != nil {
		return err
	}
	if current.Converted() {
		return ErrAlreadyConverted
	}
	if current.claimedByOther(uid, now) {
		return ErrConversionInProgress
	}
	return nil
}

// accountDocument returns the data merged into users/{uid}. A new account is
// seeded from the guest; an existing one only gains the conversion link and
// the consent flag.
func (e *Engine) accountDocument(ctx context.Context, g Guest, acct Account) (map[string]any, error) {
	signed := g.ConsentSignature != ""
	existing, err := e.docs.Get(ctx, user.Path(acct.UserID))
	switch {
	case err == nil && existing != nil:
		doc := map[string]any{"convertedFromGuestId": g.ID}
		if signed {
			doc["claims"] = map[string]any{"signedConsentForm": true}
		}
		return doc, nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("load user %s: %w", acct.UserID, err)
	}

	email := acct.Email
	if email == "" {
		email = g.Email
	}
	displayName := strings.TrimSpace(acct.DisplayName)
	if displayName == "" {
		displayName = strings.TrimSpace(g.FirstName + " " + g.LastName)
	}
	doc, err := storage.Encode(user.User{
		Email:                email,
		DisplayName:          displayName,
		FirstName:            g.FirstName,
		LastName:             g.LastName,
		Phone:                g.Phone,
		Claims:               user.Claims{SignedConsentForm: signed},
		ConvertedFromGuestID: g.ID,
		CreatedAt:            e.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode user %s: %w", acct.UserID, err)
	}
	return doc, nil
}

// migratedEvent rewrites a guest event for its new owner, keeping every
// original field, timestamps included.
func migratedEvent(ev *storage.Snapshot, userID string, now time.Time) map[string]any {
	data := storage.CloneData(ev.Data)
	delete(data, "guestId")
	data["userId"] = userID
	data["migratedFromGuestEventId"] = ev.ID()
	data["migratedAt"] = now.Format(time.RFC3339Nano)
	return data
}
