package guest

import (
	"time"

	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage"
)

const (
	// Collection holds guest check-in identities.
	Collection = "guests"
	// EventsCollection holds guest attendance records.
	EventsCollection = "guestEvents"
	// UserEventsCollection holds account attendance records.
	UserEventsCollection = "userEvents"
	// PendingCollection holds deferred conversions keyed by email.
	PendingCollection = "pendingConversions"
)

// Guest is the guests/{id} document. Once ConvertedToUserID is set the
// record is terminal but kept for audit. ConversionClaimedBy and
// ConversionClaimedAt name the account whose multi-batch migration is running;
// every batch refreshes them.
type Guest struct {
	ID                  string     `json:"-"`
	FirstName           string     `json:"firstName"`
	LastName            string     `json:"lastName"`
	Email               string     `json:"email,omitempty"`
	Phone               string     `json:"phone,omitempty"`
	EventID             string     `json:"eventId"`
	ConsentSignature    string     `json:"consentSignature,omitempty"`
	ConsentSignedAt     *time.Time `json:"consentSignedAt,omitempty"`
	ConvertedToUserID   string     `json:"convertedToUserId,omitempty"`
	ConvertedAt         *time.Time `json:"convertedAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	ConversionClaimedBy string     `json:"conversionClaimedBy,omitempty"`
	ConversionClaimedAt *time.Time `json:"conversionClaimedAt,omitempty"`
}

// Converted reports whether the guest already belongs to an account.
func (g Guest) Converted() bool {
	return g.ConvertedToUserID != ""
}

func (g Guest) claimedByOther(uid string, now time.Time) bool {
	if g.ConversionClaimedBy == "" || g.ConversionClaimedBy == uid || g.ConversionClaimedAt == nil {
		return false
	}
	return now.Sub(*g.ConversionClaimedAt) < ConversionLease
}

// Event is a guestEvents/{id} attendance record.
type Event struct {
	ID           string    `json:"-"`
	GuestID      string    `json:"guestId"`
	EventID      string    `json:"eventId"`
	RegisteredAt time.Time `json:"registeredAt"`
	CreatedAt    time.Time `json:"createdAt"`
}

// PendingConversion is the pendingConversions/{email} document.
type PendingConversion struct {
	Email     string    `json:"email"`
	GuestID   string    `json:"guestId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Account identifies the verified user a guest converts into.
type Account struct {
	UserID      string
	Email       string
	DisplayName string
}

// Result reports a finished conversion.
type Result struct {
	Success            bool `json:"success"`
	MigratedEventCount int  `json:"migratedEventCount"`
}

// Path returns the document path of a guest.
func Path(guestID string) string {
	return storage.Path(Collection, guestID)
}

// PendingPath returns the document path of a pending conversion.
func PendingPath(email string) string {
	return storage.Path(PendingCollection, email)
}

// UserEventPath returns where a migrated guest event is written.
func UserEventPath(guestEventID string) string {
	return storage.Path(UserEventsCollection, guestEventID)
}
