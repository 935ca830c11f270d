// Package mailaddr parses RFC 5322 address headers as they appear in
// real mailboxes, which is to say slightly broken more often than not.
package mailaddr

import (
	"mime"
	"net/mail"
	"strings"
)

// Address is a parsed mailbox with an optional display name.
type Address struct {
	Name  string
	Email string
}

var wordDecoder = &mime.WordDecoder{}

// Parse extracts the display name and address from a From-style header
// value. Falls back to angle-bracket splitting when the strict parser
// rejects the header, and to the raw value as the address when even
// that fails.
func Parse(header string) Address {
	header = strings.TrimSpace(header)
	if header == "" {
		return Address{}
	}

	if addr, err := mail.ParseAddress(header); err == nil {
		return Address{
			Name:  DecodeHeader(addr.Name),
			Email: strings.ToLower(addr.Address),
		}
	}

	// Headers like `Jane Doe <jane@example.com` show up in the wild.
	if open := strings.LastIndex(header, "<"); open >= 0 {
		email := strings.Trim(header[open+1:], "<> ")
		name := strings.Trim(strings.TrimSpace(header[:open]), `"`)
		return Address{
			Name:  DecodeHeader(name),
			Email: strings.ToLower(email),
		}
	}

	return Address{Email: strings.ToLower(header)}
}

// DecodeHeader decodes RFC 2047 encoded words, returning the input
// unchanged when it is not encoded or decoding fails.
func DecodeHeader(value string) string {
	if !strings.Contains(value, "=?") {
		return value
	}
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}
