// Package envelope implements helpers for splitting and normalizing mail
// addresses (tuples of local-part and domain).
package envelope

import (
	"strings"

	"golang.org/x/text/secure/precis"
)

// Split a local@domain address into its local-part and domain.
// If there is no "@", the whole string is returned as the local-part and
// the domain is empty.
func Split(addr string) (local, domain string) {
	i := strings.LastIndex(addr, "@")
	if i < 0 {
		return addr, ""
	}
	return addr[:i], addr[i+1:]
}

// UserOf returns the local-part of a local@domain address.
func UserOf(addr string) string {
	local, _ := Split(addr)
	return local
}

// DomainOf returns the domain of a local@domain address.
func DomainOf(addr string) string {
	_, domain := Split(addr)
	return domain
}

// NormalizeUser normalizes a username using PRECIS (RFC 8265).
// On error, it also returns the original username, to simplify callers that
// want to use the value regardless.
func NormalizeUser(user string) (string, error) {
	norm, err := precis.UsernameCaseMapped.String(user)
	if err != nil {
		return user, err
	}
	return norm, nil
}

// NormalizeDomain lower-cases a domain name. Full IDNA handling is left to
// callers that need it; this is only the canonicalization used for
// case-insensitive comparisons (e.g. ESMTP parameter keys, mechanism names).
func NormalizeDomain(domain string) string {
	return strings.ToLower(domain)
}
