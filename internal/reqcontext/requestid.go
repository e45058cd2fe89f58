package reqcontext

import (
	"regexp"

	"github.com/google/uuid"
)

// RequestIDHeader is the header clients may use to supply their own id.
const RequestIDHeader = "X-Request-Id"

// MaxRequestIDLength caps client-supplied ids.
const MaxRequestIDLength = 256

var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,256}$`)

// IsValidRequestID accepts alphanumerics, dashes and underscores up to
// MaxRequestIDLength characters.
func IsValidRequestID(id string) bool {
	if id == "" || len(id) > MaxRequestIDLength {
		return false
	}
	return requestIDPattern.MatchString(id)
}

// GenerateRequestID returns a fresh UUID v4 id.
func GenerateRequestID() string {
	return uuid.New().String()
}

// GetOrGenerateRequestID keeps a valid client-supplied id and replaces
// anything else.
func GetOrGenerateRequestID(providedID string) string {
	if IsValidRequestID(providedID) {
		return providedID
	}
	return GenerateRequestID()
}
