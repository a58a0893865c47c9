package mailbox

import (
	"mime"
	"regexp"
	"strings"

	"github.com/tablesnipe/reservation-backend/internal/models"
)

var resySenders = []string{"notify@resy.com", "no-reply@resy.com"}
var openTableSenders = []string{"notifications@opentable.com", "no-reply@opentable.com"}

// notifyKeywords gate out marketing mail: a message with none of these in
// its subject or body is not an availability notification.
var notifyKeywords = []string{
	"table available", "reservation available", "opening",
	"notify", "spot just opened", "now available",
	"a table is available", "good news",
}

// restaurantPatterns extract the restaurant name from known notification
// shapes. Resy: "Good news! A table at <name> is now available".
// OpenTable: "<name> - A table is now available".
var restaurantPatterns = []*regexp.Regexp{
	regexp.MustCompile(`table at (.+?)(?:\s+is|\s+has|\s+—|\s*-|\.|!)`),
	regexp.MustCompile(`(.+?)\s*[-—]\s*[Aa] table`),
	regexp.MustCompile(`at (.+?) (?:on|for)`),
	regexp.MustCompile(`news.*?(?:at|from)\s+(.+?)(?:\s+is|\.|!)`),
}

// identifyPlatform maps a From address to a platform name, or "" when the
// sender is not a known notification source.
func identifyPlatform(fromAddr string) string {
	fromLower := strings.ToLower(fromAddr)
	for _, sender := range resySenders {
		if strings.Contains(fromLower, sender) {
			return models.PlatformResy
		}
	}
	for _, sender := range openTableSenders {
		if strings.Contains(fromLower, sender) {
			return models.PlatformOpenTable
		}
	}
	return ""
}

// parseNotification extracts a Notification from an email's subject and
// body. Returns false when the message is not an availability notification
// or no restaurant name could be found.
func parseNotification(subject, body, platform string) (models.Notification, bool) {
	subjectLower := strings.ToLower(subject)
	bodyLower := strings.ToLower(body)

	isNotify := false
	for _, kw := range notifyKeywords {
		if strings.Contains(subjectLower, kw) || strings.Contains(bodyLower, kw) {
			isNotify = true
			break
		}
	}
	if !isNotify {
		return models.Notification{}, false
	}

	name := extractRestaurantName(subject)
	if name == "" {
		// Fall back to the start of the body; names show up early.
		snippet := body
		if len(snippet) > 500 {
			snippet = snippet[:500]
		}
		name = extractRestaurantName(snippet)
	}
	if name == "" {
		return models.Notification{}, false
	}

	return models.Notification{
		Platform:       platform,
		RestaurantName: name,
		Subject:        subject,
	}, true
}

func extractRestaurantName(text string) string {
	for _, pattern := range restaurantPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// decodeHeader decodes RFC 2047 encoded-words in a header value. A value
// that fails to decode is returned as-is.
func decodeHeader(value string) string {
	dec := &mime.WordDecoder{}
	decoded, err := dec.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}
