package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Natural-Highs/live-sub000/internal/platform/errors"
	"github.com/Natural-Highs/live-sub000/internal/platform/id"
	platformotel "github.com/Natural-Highs/live-sub000/internal/platform/otel"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/user"
	"github.com/golang/glog"
)

var tracer = platformotel.Tracer("identity/profile")

const (
	// PrivateCollection is the per-user subcollection for restricted data.
	PrivateCollection = "private"
	// DemographicsDocument is the private document holding a minor's
	// demographics.
	DemographicsDocument = "demographics"
	// HistoryCollection is the per-user subcollection of edit records.
	HistoryCollection = "demographicHistory"
)

// ErrVersionConflict reports an edit based on a stale profile version.
var ErrVersionConflict = apperrors.Conflict("profile was changed by another request; reload and retry")

// Source names the operation that produced a history record.
type Source string

const (
	SourceProfile      Source = "profile"
	SourceDemographics Source = "demographics"
)

// Result reports an edit. UpdatedFields is empty when nothing changed.
type Result struct {
	UpdatedFields []string `json:"updatedFields"`
	NewVersion    int64    `json:"newVersion"`
}

// HistoryRecord is an immutable users/{uid}/demographicHistory/{id} entry.
type HistoryRecord struct {
	ID             string         `json:"-"`
	ChangedFields  []string       `json:"changedFields"`
	PreviousValues map[string]any `json:"previousValues"`
	NewValues      map[string]any `json:"newValues"`
	Source         Source         `json:"source"`
	Version        int64          `json:"version"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Store applies profile edits.
type Store struct {
	docs  storage.Store
	now   func() time.Time
	newID func() (string, error)
}

// NewStore returns a profile store over docs.
func NewStore(docs storage.Store, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{docs: docs, now: now, newID: id.NewID}
}

// UpdateProfile applies a partial profile edit. When expectedVersion is set
// and the stored version differs the edit fails with ErrVersionConflict.
func (s *Store) UpdateProfile(ctx context.Context, uid string, fields ProfileFields, expectedVersion *int64) (Result, error) {
	ctx, span := tracer.Start(ctx, "profile.UpdateProfile")
	defer span.End()

	proposals, err := fields.normalize(s.now())
	if err != nil {
		return Result{}, err
	}
	return s.apply(ctx, uid, SourceProfile, proposals, expectedVersion)
}

// UpdateDemographics applies a partial demographics edit. A minor's
// demographics are written to the private document instead of the account.
func (s *Store) UpdateDemographics(ctx context.Context, uid string, fields DemographicsFields, expectedVersion *int64) (Result, error) {
	ctx, span := tracer.Start(ctx, "profile.UpdateDemographics")
	defer span.End()

	proposals, err := fields.normalize()
	if err != nil {
		return Result{}, err
	}
	return s.apply(ctx, uid, SourceDemographics, proposals, expectedVersion)
}

type getFunc func(path string) (*storage.Snapshot, error)

// state is what an edit is computed against.
type state struct {
	version int64
	account map[string]any
	private map[string]any
}

func (st state) minor() bool {
	minor, _ := st.account["isMinor"].(bool)
	return minor
}

// relocation moves existing demographics when a profile edit flips isMinor.
type relocation int

const (
	stayPut relocation = iota
	moveToPrivate
	moveToAccount
)

// edit is a computed change. toPrivate routes the changed fields to the
// private demographics document.
type edit struct {
	change    Change
	toPrivate bool
	move      relocation
}

func (s *Store) apply(ctx context.Context, uid string, source Source, proposals []proposed, expectedVersion *int64) (Result, error) {
	if strings.TrimSpace(uid) == "" {
		return Result{}, user.ErrNotFound
	}

	current, err := loadState(uid, func(path string) (*storage.Snapshot, error) {
		return s.docs.Get(ctx, path)
	})
	if err != nil {
		return Result{}, err
	}
	if expectedVersion != nil && *expectedVersion != current.version {
		return Result{}, versionConflict(*expectedVersion, current.version)
	}
	now := s.now().UTC()
	if s.plan(current, source, proposals, now).change.Empty() {
		return Result{UpdatedFields: []string{}, NewVersion: current.version}, nil
	}

	historyID, err := s.newID()
	if err != nil {
		return Result{}, err
	}
	var result Result
	err = s.docs.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		fresh, err := loadState(uid, tx.Get)
		if err != nil {
			return err
		}
		if expectedVersion != nil && *expectedVersion != fresh.version {
			return versionConflict(*expectedVersion, fresh.version)
		}
		p := s.plan(fresh, source, proposals, now)
		if p.change.Empty() {
			result = Result{UpdatedFields: []string{}, NewVersion: fresh.version}
			return nil
		}

		newVersion := fresh.version + 1
		updates := []storage.Update{{Path: "profileVersion", Value: newVersion}}
		if p.toPrivate {
			if err := tx.Set(privatePath(uid), p.change.New, storage.Merge()); err != nil {
				return err
			}
		} else {
			for _, field := range p.change.Fields {
				updates = append(updates, storage.Update{Path: field, Value: p.change.New[field]})
			}
		}
		moved, err := relocate(tx, uid, fresh, p.move, &updates)
		if err != nil {
			return err
		}
		if err := tx.Update(user.Path(uid), updates); err != nil {
			return err
		}
		if len(moved) > 0 {
			glog.V(1).Infof("user %s demographics moved (minor=%t): %v", uid, p.move == moveToPrivate, moved)
		}

		record := HistoryRecord{
			ChangedFields:  p.change.Fields,
			PreviousValues: p.change.Previous,
			NewValues:      p.change.New,
			Source:         source,
			Version:        newVersion,
			Timestamp:      now,
		}
		if err := tx.Set(HistoryPath(uid, historyID), record); err != nil {
			return err
		}
		result = Result{UpdatedFields: p.change.Fields, NewVersion: newVersion}
		return nil
	})
	if err != nil {
		if apperrors.GetCode(err) != apperrors.CodeUnknown {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("update %s for %s: %w", source, uid, err)
	}
	if len(result.UpdatedFields) > 0 {
		glog.V(1).Infof("user %s %s edit: version %d fields %v", uid, source, result.NewVersion, result.UpdatedFields)
	}
	return result, nil
}

// plan diffs proposals against st. Profile edits also recompute the derived
// isMinor and profileComplete flags and include them when they move.
func (s *Store) plan(st state, source Source, proposals []proposed, now time.Time) edit {
	if source == SourceDemographics {
		if st.minor() {
			return edit{change: diff(st.private, proposals), toPrivate: true}
		}
		return edit{change: diff(st.account, proposals)}
	}

	change := diff(st.account, proposals)
	if change.Empty() {
		return edit{}
	}
	merged := storage.CloneData(st.account)
	for _, field := range change.Fields {
		merged[field] = change.New[field]
	}
	dob, _ := merged["dateOfBirth"].(string)
	displayName, _ := merged["displayName"].(string)

	e := edit{change: change}
	for _, d := range []struct {
		field string
		value bool
	}{
		{"isMinor", isMinor(dob, now)},
		{"profileComplete", displayName != "" && dob != ""},
	} {
		previous, _ := st.account[d.field].(bool)
		if previous == d.value {
			continue
		}
		e.change.add(d.field, previous, d.value)
		if d.field == "isMinor" {
			e.move = moveToAccount
			if d.value {
				e.move = moveToPrivate
			}
		}
	}
	return e
}

// relocate queues the writes that carry existing demographics to the
// document matching the new isMinor flag. Account-side removals are appended
// to updates so they land with the version bump.
func relocate(tx storage.Tx, uid string, st state, move relocation, updates *[]storage.Update) ([]string, error) {
	switch move {
	case moveToPrivate:
		demographics := demographicsOf(st.account)
		if len(demographics) == 0 {
			return nil, nil
		}
		if err := tx.Set(privatePath(uid), demographics, storage.Merge()); err != nil {
			return nil, err
		}
		fields := presentFields(demographics)
		for _, field := range fields {
			*updates = append(*updates, storage.Update{Path: field, Value: storage.DeleteField()})
		}
		return fields, nil
	case moveToAccount:
		demographics := demographicsOf(st.private)
		if len(demographics) == 0 {
			return nil, nil
		}
		fields := presentFields(demographics)
		for _, field := range fields {
			*updates = append(*updates, storage.Update{Path: field, Value: demographics[field]})
		}
		if err := tx.Delete(privatePath(uid)); err != nil {
			return nil, err
		}
		return fields, nil
	}
	return nil, nil
}

func loadState(uid string, get getFunc) (state, error) {
	snap, err := get(user.Path(uid))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return state{}, user.ErrNotFound
		}
		return state{}, fmt.Errorf("load user %s: %w", uid, err)
	}
	st := state{account: snap.Data, version: versionOf(snap.Data)}
	if st.account == nil {
		st.account = map[string]any{}
	}

	priv, err := get(privatePath(uid))
	switch {
	case err == nil:
		st.private = priv.Data
	case errors.Is(err, storage.ErrNotFound):
		st.private = map[string]any{}
	default:
		return state{}, fmt.Errorf("load private demographics %s: %w", uid, err)
	}
	return st, nil
}

// versionOf reads profileVersion, treating documents written before
// versioning as version 0.
func versionOf(data map[string]any) int64 {
	switch v := data["profileVersion"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

func versionConflict(expected, actual int64) error {
	return apperrors.Wrap(apperrors.CodeConflict, ErrVersionConflict.Message,
		fmt.Errorf("expected version %d, stored version %d", expected, actual))
}

func privatePath(uid string) string {
	return storage.Path(user.Collection, uid, PrivateCollection, DemographicsDocument)
}

// HistoryPath returns the document path of a history record.
func HistoryPath(uid, recordID string) string {
	return storage.Path(user.Collection, uid, HistoryCollection, recordID)
}
