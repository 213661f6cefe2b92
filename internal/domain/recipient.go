package domain

import "github.com/google/uuid"

// Recipient is a concrete addressable target resolved from the external
// user directory.
type Recipient struct {
	ID         uuid.UUID           `json:"id"`
	Name       string              `json:"name"`
	Role       string              `json:"role,omitempty"`
	Department string              `json:"department,omitempty"`
	Contacts   map[Channel]string  `json:"contacts"` // channel -> address (email, phone number, device token, ...)
}

// ContactFor returns the address for a channel, if the recipient has one
func (r *Recipient) ContactFor(c Channel) (string, bool) {
	addr, ok := r.Contacts[c]
	return addr, ok && addr != ""
}
