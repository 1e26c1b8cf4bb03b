package domain

import (
	"net/mail"
	"strings"

	shared "github.com/mlewis7127/licenceledger/internal/shared/domain"
)

// AggregateType identifies licences in events and the outbox.
const AggregateType = "licence"

// RoutingKeyLicenceCreated is the routing key of LicenceCreated.
const RoutingKeyLicenceCreated = "licensing.licence.created"

// Licence is a licence document in the ledger. LicenceID is the identifier the
// store assigned to the document when it was inserted; it is empty until the
// document has been stamped with it.
type Licence struct {
	LicenceID string `json:"licenceId"`
	Email     string `json:"email"`
}

// NewLicence returns an unstamped licence for a validated email.
func NewLicence(email string) (*Licence, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	return &Licence{Email: normalized}, nil
}

// Stamp records the store-assigned identifier on the licence.
func (l *Licence) Stamp(licenceID string) {
	l.LicenceID = licenceID
}

// IsComplete reports whether the licence carries its own identifier.
func (l *Licence) IsComplete() bool {
	return l != nil && l.LicenceID != "" && l.Email != ""
}

// NormalizeEmail trims surrounding whitespace and checks that what is left is
// a bare address. Case is preserved: the ledger compares emails exactly.
func NormalizeEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	if email == "" {
		return "", ErrEmailRequired
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// LicenceCreated is emitted when a licence has been inserted and stamped.
type LicenceCreated struct {
	shared.BaseEvent
	LicenceID string `json:"licence_id"`
	Email     string `json:"email"`
}

// NewLicenceCreated builds the event for a stamped licence.
func NewLicenceCreated(l *Licence) *LicenceCreated {
	return &LicenceCreated{
		BaseEvent: shared.NewBaseEvent(l.LicenceID, AggregateType, RoutingKeyLicenceCreated),
		LicenceID: l.LicenceID,
		Email:     l.Email,
	}
}
