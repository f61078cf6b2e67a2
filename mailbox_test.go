package smtpd

import "testing"

func TestMailboxString(t *testing.T) {
	m := Mailbox{Local: "user", Domain: "example.com"}
	if got, want := m.String(), "user@example.com"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestMailboxNormalize(t *testing.T) {
	m := Mailbox{Local: "User", Domain: "EXAMPLE.com"}
	n, err := m.Normalize()
	if err != nil {
		t.Fatalf("Normalize() error: %v", err)
	}
	if n.Domain != "example.com" {
		t.Errorf("Domain = %q, want %q", n.Domain, "example.com")
	}
	if n.Local == "" {
		t.Errorf("Local is empty after normalization")
	}
}

func TestMailboxNormalizeInvalidLocal(t *testing.T) {
	m := Mailbox{Local: "¹", Domain: "example.com"} // superscript one, PRECIS-disallowed
	if _, err := m.Normalize(); err == nil {
		t.Error("expected error normalizing a PRECIS-invalid local part")
	}
}
