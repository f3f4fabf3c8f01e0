package transport

import (
	"github.com/pithecene-io/coalesce/log"
)

// BestEffort records a failed cosmetic operation (an edit, a delete, a
// callback answer) and discards the error. It reports whether op
// succeeded.
func BestEffort(logger *log.Logger, op string, err error) bool {
	if err == nil {
		return true
	}
	logger.Debug("best-effort transport operation failed", map[string]any{
		"op":    op,
		"error": err.Error(),
	})
	return false
}
