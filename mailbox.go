// Package smtpd implements the core of a pluggable ESMTP receive server: a
// session state machine, a hand-written command parser, and an endpoint
// accept loop, with concrete stores, filters, authenticators and logging
// sinks supplied by the caller through the interfaces in this package.
package smtpd

import (
	"fmt"

	"tuatara.dev/go/smtpd/internal/envelope"
)

// Mailbox is an email address split into its local and domain parts. It is
// immutable; the null reverse-path (MAIL FROM:<>) is represented by the
// absence of a Mailbox, not by a zero value of this type.
type Mailbox struct {
	Local  string
	Domain string
}

// String renders the mailbox in local@domain form.
func (m Mailbox) String() string {
	return fmt.Sprintf("%s@%s", m.Local, m.Domain)
}

// Normalize applies PRECIS normalization to the local part and
// lower-cases the domain, returning a canonical form suitable for
// comparison and storage lookups.
func (m Mailbox) Normalize() (Mailbox, error) {
	local, err := envelope.NormalizeUser(m.Local)
	if err != nil {
		return Mailbox{}, fmt.Errorf("normalizing local part %q: %w", m.Local, err)
	}
	return Mailbox{Local: local, Domain: envelope.NormalizeDomain(m.Domain)}, nil
}
