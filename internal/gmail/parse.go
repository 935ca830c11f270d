package gmail

import (
	"encoding/base64"
	"strings"
	"time"

	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/leadloft/leadloft/internal/models"
	"github.com/leadloft/leadloft/pkg/mailaddr"
)

// ParseMessage flattens a full Gmail message into the intake shape.
func ParseMessage(msg *gmailapi.Message) *models.InboundEmail {
	email := &models.InboundEmail{
		ProviderMessageID: msg.Id,
		Snippet:           msg.Snippet,
	}
	if msg.InternalDate > 0 {
		email.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload == nil {
		return email
	}

	from := mailaddr.Parse(header(msg.Payload, "From"))
	email.FromName = from.Name
	email.FromEmail = from.Email
	email.To = mailaddr.Parse(header(msg.Payload, "To")).Email
	email.Subject = mailaddr.DecodeHeader(header(msg.Payload, "Subject"))

	// Prefer the plain text body, then HTML, then the snippet.
	if body := findBody(msg.Payload, "text/plain"); body != "" {
		email.Body = body
	} else if body := findBody(msg.Payload, "text/html"); body != "" {
		email.Body = body
	} else {
		email.Body = msg.Snippet
	}
	return email
}

// header returns the value of a named header, case-insensitively.
func header(payload *gmailapi.MessagePart, name string) string {
	for _, h := range payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// findBody walks the MIME tree for the first part of the given type
// and returns its decoded body.
func findBody(part *gmailapi.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}
	if strings.HasPrefix(part.MimeType, mimeType) && part.Body != nil && part.Body.Data != "" {
		decoded, err := base64.RawURLEncoding.DecodeString(part.Body.Data)
		if err != nil {
			return ""
		}
		return string(decoded)
	}
	for _, child := range part.Parts {
		if body := findBody(child, mimeType); body != "" {
			return body
		}
	}
	return ""
}
