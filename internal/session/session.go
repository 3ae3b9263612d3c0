// Package session manages the persisted customer identity that survives
// widget restarts. Identity is stored as discrete per-attribute fields rather
// than one serialized blob, so a store may legitimately return a partial
// record; callers must treat a session as present only when the three
// required fields all resolve.
package session

import "context"

// Field names used by every Store backend. Keeping one key per attribute
// preserves the partial-read semantics of the original per-key storage.
const (
	FieldCustomerID    = "customer_id"
	FieldCustomerName  = "customer_name"
	FieldCustomerPhone = "customer_phone"
	FieldCustomerEmail = "customer_email"
	FieldTicketID      = "ticket_id"
)

// Session is the persisted identity tying this widget to a customer and,
// optionally, an open support ticket.
type Session struct {
	CustomerID    string
	CustomerName  string
	CustomerPhone string
	CustomerEmail string
	TicketID      string
}

// Valid reports whether the session carries all three required identity
// fields. Email and ticket are optional.
func (s Session) Valid() bool {
	return s.CustomerID != "" && s.CustomerName != "" && s.CustomerPhone != ""
}

// Update is a partial session write. Nil fields are left untouched in the
// store; non-nil fields overwrite, including overwriting with the empty
// string.
type Update struct {
	CustomerID    *string
	CustomerName  *string
	CustomerPhone *string
	CustomerEmail *string
	TicketID      *string
}

// FromSession builds an Update that overwrites every field with the values of
// s. Used when a server reply replaces the identity wholesale.
func FromSession(s Session) Update {
	return Update{
		CustomerID:    &s.CustomerID,
		CustomerName:  &s.CustomerName,
		CustomerPhone: &s.CustomerPhone,
		CustomerEmail: &s.CustomerEmail,
		TicketID:      &s.TicketID,
	}
}

// Store persists session identity across widget restarts.
type Store interface {
	// Load reads the persisted fields. ok is false when any required field
	// is missing, even if other fields are present.
	Load(ctx context.Context) (s Session, ok bool, err error)

	// Save merges the provided fields into the persisted record.
	Save(ctx context.Context, u Update) error

	// Clear removes all persisted fields unconditionally.
	Clear(ctx context.Context) error
}
