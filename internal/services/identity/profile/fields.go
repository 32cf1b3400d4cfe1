package profile

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Natural-Highs/live-sub000/internal/platform/errors"
	"golang.org/x/text/unicode/norm"
)

const (
	maxTextLength = 200
	maxListItems  = 20
	dateLayout    = "2006-01-02"
	adultAge      = 18
)

// ProfileFields is a partial profile edit. Nil fields are left untouched.
type ProfileFields struct {
	DisplayName *string `json:"displayName,omitempty"`
	FirstName   *string `json:"firstName,omitempty"`
	LastName    *string `json:"lastName,omitempty"`
	DateOfBirth *string `json:"dateOfBirth,omitempty"`
	Phone       *string `json:"phone,omitempty"`
}

// DemographicsFields is a partial demographics edit. Nil fields are left
// untouched.
type DemographicsFields struct {
	Gender            *string   `json:"gender,omitempty"`
	Pronouns          *string   `json:"pronouns,omitempty"`
	Ethnicity         *[]string `json:"ethnicity,omitempty"`
	Race              *[]string `json:"race,omitempty"`
	City              *string   `json:"city,omitempty"`
	State             *string   `json:"state,omitempty"`
	ZipCode           *string   `json:"zipCode,omitempty"`
	HasAttendedBefore *bool     `json:"hasAttendedBefore,omitempty"`
}

// proposed is one supplied field after normalization, in a stable order.
type proposed struct {
	field string
	value any
}

func (f ProfileFields) normalize(now time.Time) ([]proposed, error) {
	var out []proposed
	for _, entry := range []struct {
		name  string
		value *string
	}{
		{"displayName", f.DisplayName},
		{"firstName", f.FirstName},
		{"lastName", f.LastName},
		{"dateOfBirth", f.DateOfBirth},
		{"phone", f.Phone},
	} {
		if entry.value == nil {
			continue
		}
		text, err := normalizeText(entry.name, *entry.value)
		if err != nil {
			return nil, err
		}
		if entry.name == "dateOfBirth" && text != "" {
			if _, err := parseDateOfBirth(text, now); err != nil {
				return nil, err
			}
		}
		out = append(out, proposed{field: entry.name, value: text})
	}
	return out, nil
}

func (f DemographicsFields) normalize() ([]proposed, error) {
	var out []proposed
	for _, entry := range []struct {
		name  string
		value *string
	}{
		{"gender", f.Gender},
		{"pronouns", f.Pronouns},
		{"city", f.City},
		{"state", f.State},
		{"zipCode", f.ZipCode},
	} {
		if entry.value == nil {
			continue
		}
		text, err := normalizeText(entry.name, *entry.value)
		if err != nil {
			return nil, err
		}
		out = append(out, proposed{field: entry.name, value: text})
	}
	for _, entry := range []struct {
		name  string
		value *[]string
	}{
		{"ethnicity", f.Ethnicity},
		{"race", f.Race},
	} {
		if entry.value == nil {
			continue
		}
		list, err := normalizeList(entry.name, *entry.value)
		if err != nil {
			return nil, err
		}
		out = append(out, proposed{field: entry.name, value: list})
	}
	if f.HasAttendedBefore != nil {
		out = append(out, proposed{field: "hasAttendedBefore", value: *f.HasAttendedBefore})
	}
	return out, nil
}

// demographicFields lists the fields a minor's private document holds.
var demographicFields = []string{"gender", "pronouns", "ethnicity", "race", "city", "state", "zipCode", "hasAttendedBefore"}

func normalizeText(field, raw string) (string, error) {
	text := strings.TrimSpace(norm.NFC.String(raw))
	if len([]rune(text)) > maxTextLength {
		return "", apperrors.WithMetadata(apperrors.CodeValidation,
			fmt.Sprintf("%s is longer than %d characters", field, maxTextLength),
			map[string]string{"field": field})
	}
	return text, nil
}

func normalizeList(field string, raw []string) ([]any, error) {
	if len(raw) > maxListItems {
		return nil, apperrors.WithMetadata(apperrors.CodeValidation,
			fmt.Sprintf("%s has more than %d entries", field, maxListItems),
			map[string]string{"field": field})
	}
	list := make([]any, 0, len(raw))
	for _, item := range raw {
		text, err := normalizeText(field, item)
		if err != nil {
			return nil, err
		}
		if text == "" {
			continue
		}
		list = append(list, text)
	}
	return list, nil
}

func parseDateOfBirth(value string, now time.Time) (time.Time, error) {
	dob, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, apperrors.WithMetadata(apperrors.CodeValidation,
			"dateOfBirth must be formatted YYYY-MM-DD", map[string]string{"field": "dateOfBirth"})
	}
	if dob.After(now) {
		return time.Time{}, apperrors.WithMetadata(apperrors.CodeValidation,
			"dateOfBirth is in the future", map[string]string{"field": "dateOfBirth"})
	}
	return dob, nil
}

// isMinor reports whether someone born on dateOfBirth is under 18 at now.
// An empty or unparseable date counts as an adult.
func isMinor(dateOfBirth string, now time.Time) bool {
	dob, err := time.Parse(dateLayout, dateOfBirth)
	if err != nil {
		return false
	}
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age < adultAge
}
