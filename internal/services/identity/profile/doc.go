// Package profile applies version-stamped edits to account profiles and
// demographics.
//
// Every accepted edit bumps profileVersion by exactly one and appends a
// history record under users/{uid}/demographicHistory. Callers that pass an
// expected version are rejected with a conflict when another edit landed
// first. Demographics of minors are kept in users/{uid}/private/demographics
// rather than on the account document.
package profile
