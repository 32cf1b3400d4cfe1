package profile

import (
	"context"
	"fmt"
	"strings"

	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/user"
)

// Profile is the editable view of an account.
type Profile struct {
	UserID          string         `json:"userId"`
	DisplayName     string         `json:"displayName"`
	FirstName       string         `json:"firstName"`
	LastName        string         `json:"lastName"`
	DateOfBirth     string         `json:"dateOfBirth"`
	Phone           string         `json:"phone"`
	IsMinor         bool           `json:"isMinor"`
	ProfileComplete bool           `json:"profileComplete"`
	ProfileVersion  int64          `json:"profileVersion"`
	Demographics    map[string]any `json:"demographics"`
}

// Get returns the profile of uid together with the version an edit should
// name as expected.
func (s *Store) Get(ctx context.Context, uid string) (Profile, error) {
	if strings.TrimSpace(uid) == "" {
		return Profile{}, user.ErrNotFound
	}
	st, err := loadState(uid, func(path string) (*storage.Snapshot, error) {
		return s.docs.Get(ctx, path)
	})
	if err != nil {
		return Profile{}, err
	}
	u, err := user.FromSnapshot(&storage.Snapshot{Path: user.Path(uid), Data: st.account})
	if err != nil {
		return Profile{}, fmt.Errorf("decode user %s: %w", uid, err)
	}

	source := st.account
	if st.minor() {
		source = st.private
	}
	return Profile{
		UserID:          uid,
		DisplayName:     u.DisplayName,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		DateOfBirth:     u.DateOfBirth,
		Phone:           u.Phone,
		IsMinor:         u.IsMinor,
		ProfileComplete: u.ProfileComplete,
		ProfileVersion:  st.version,
		Demographics:    demographicsOf(source),
	}, nil
}

// demographicsOf picks the demographic fields present in data.
func demographicsOf(data map[string]any) map[string]any {
	out := make(map[string]any, len(demographicFields))
	for _, field := range demographicFields {
		if v, ok := data[field]; ok {
			out[field] = v
		}
	}
	return out
}

// presentFields lists the keys of demographics in canonical field order.
func presentFields(demographics map[string]any) []string {
	var fields []string
	for _, field := range demographicFields {
		if _, ok := demographics[field]; ok {
			fields = append(fields, field)
		}
	}
	return fields
}

// History lists the newest edit records of uid first. A limit of zero
// returns every record.
func (s *Store) History(ctx context.Context, uid string, limit int) ([]HistoryRecord, error) {
	snaps, err := s.docs.Query(ctx, storage.Query{
		Collection: storage.Path(user.Collection, uid, HistoryCollection),
		OrderBy:    "version",
		Descending: true,
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list profile history: %w", err)
	}
	records := make([]HistoryRecord, 0, len(snaps))
	for _, snap := range snaps {
		var rec HistoryRecord
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("decode history %s: %w", snap.Path, err)
		}
		rec.ID = snap.ID()
		records = append(records, rec)
	}
	return records, nil
}
