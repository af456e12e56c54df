package mailq

import (
	"errors"
	"strings"
)

// transientPatterns are the case-insensitive substrings that mark a send
// failure as transient. They cover network-level conditions and the SMTP
// temporary-failure reply codes (421 service not available, 450 mailbox
// busy, 451 local processing error, 452 insufficient storage).
var transientPatterns = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"host unreachable",
	"no such host",
	"dns",
	"network",
	"econnreset",
	"econnrefused",
	"421",
	"450",
	"451",
	"452",
}

// IsTransient classifies a send failure. A match against any transient
// pattern means the failure is worth retrying; anything else (invalid
// recipient, auth rejection, unclassified) is permanent and must surface as
// a terminal failure for operator visibility.
//
// The function is pure: it inspects only error messages. The whole unwrap
// chain is checked because wrappers like AppError keep the low-level cause
// out of their own message.
func IsTransient(err error) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		msg := strings.ToLower(e.Error())
		for _, pattern := range transientPatterns {
			if strings.Contains(msg, pattern) {
				return true
			}
		}
	}
	return false
}
