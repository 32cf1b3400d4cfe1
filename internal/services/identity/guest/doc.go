// Package guest promotes anonymous check-ins to authenticated accounts.
//
// A conversion copies every guestEvents record of a guest into userEvents in
// sequential batches sized to the store's write cap. The account document is
// written with the first batch and the guest's converted marker with the
// last, so a guest only reads as converted once all attendance has landed.
// Migrated events reuse the guest event id, which makes re-running an
// interrupted conversion overwrite rather than duplicate.
package guest
