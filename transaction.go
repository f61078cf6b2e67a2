package smtpd

// Transaction holds the state of one mail transaction: the reverse-path,
// the accumulated recipients, the ESMTP parameters attached to MAIL FROM,
// and (once DATA completes) the raw message bytes. It is reset whenever
// the session returns to WaitingForMail.
type Transaction struct {
	From       *Mailbox
	FromParams map[string]string
	To         []Mailbox
	Data       []byte
}

func (t *Transaction) reset() {
	*t = Transaction{}
}
