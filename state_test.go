package smtpd

import "testing"

func TestIsValidInState(t *testing.T) {
	cases := []struct {
		state   State
		keyword string
		want    bool
	}{
		{WaitingForMail, "MAIL", true},
		{WaitingForMail, "RCPT", false},
		{WaitingForMail, "DATA", false},
		{WithinTransaction, "RCPT", true},
		{WithinTransaction, "DATA", false},
		{CanAcceptData, "DATA", true},
		{CanAcceptData, "RCPT", true},
		{Initialized, "STARTTLS", true},
		{CanAcceptData, "AUTH", true},
		{WaitingForMail, "BOGUS", false},
	}
	for _, c := range cases {
		if got := isValidInState(c.state, c.keyword); got != c.want {
			t.Errorf("isValidInState(%v, %q) = %v, want %v", c.state, c.keyword, got, c.want)
		}
	}
}

func TestNextState(t *testing.T) {
	next, ok := nextState(CanAcceptData, "DATA")
	if !ok || next != WaitingForMail {
		t.Errorf("nextState(CanAcceptData, DATA) = %v, %v, want WaitingForMail, true", next, ok)
	}

	if _, ok := nextState(WaitingForMail, "HELO"); ok {
		t.Error("HELO should not be table-driven")
	}
}

func TestAllowedKeywordsIncludesAlwaysAvailable(t *testing.T) {
	kws := allowedKeywords(WaitingForMail)
	found := map[string]bool{}
	for _, kw := range kws {
		found[kw] = true
	}
	for _, want := range []string{"NOOP", "QUIT", "RSET", "MAIL"} {
		if !found[want] {
			t.Errorf("allowedKeywords(WaitingForMail) missing %q: %v", want, kws)
		}
	}
}
