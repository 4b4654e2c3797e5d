package negotiation

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

// Store-level sentinels. The engine translates these into caller-facing
// httperrors; the Postgres and in-memory stores must agree on them.
var (
	// ErrNotFound means the negotiation (or item) does not exist.
	ErrNotFound = errors.New("negotiation not found")
	// ErrConflict means a conditional write lost the version race. Safe to
	// retry after re-reading.
	ErrConflict = errors.New("negotiation version conflict")
	// ErrNotActive means the negotiation is terminal or in an acceptance
	// phase that forbids the attempted write.
	ErrNotActive = errors.New("negotiation is not active")
	// ErrAlreadyNegotiating means an open negotiation already exists for the
	// (item, buyer) pair.
	ErrAlreadyNegotiating = errors.New("an open negotiation already exists for this item and buyer")
)

// Error kinds carried in the httperror meta so clients can discriminate
// without parsing messages.
const (
	KindValidation   = "validation"
	KindUnauthorized = "unauthorized"
	KindNotActive    = "negotiation_not_active"
	KindConflict     = "conflict"
	KindNotFound     = "not_found"
)

func kindError(code int, kind, message string, meta map[string]any) error {
	he := httperror.ToHTTPError(httperror.NewHTTPError(code, message))
	if he.Meta == nil {
		he.Meta = map[string]any{}
	}
	he.Meta["kind"] = kind
	for k, v := range meta {
		he.Meta[k] = v
	}
	return he
}

// ValidationError reports client-caused bad input. Never retried.
func ValidationError(message string) error {
	return kindError(http.StatusBadRequest, KindValidation, message, nil)
}

// UnauthorizedError reports an actor that is not the expected party.
func UnauthorizedError(message string) error {
	return kindError(http.StatusForbidden, KindUnauthorized, message, nil)
}

// NotFoundError reports a missing negotiation or item.
func NotFoundError(message string) error {
	return kindError(http.StatusNotFound, KindNotFound, message, nil)
}

// NotActiveError reports a transition attempted on a terminal or ineligible
// state. Meta carries the authoritative current status.
func NotActiveError(message string, currentStatus string) error {
	return kindError(http.StatusConflict, KindNotActive, message, map[string]any{
		"status": currentStatus,
	})
}

// ConflictError is surfaced only after the engine exhausts its internal
// retries. Meta carries the current version and status so clients can
// resynchronize.
func ConflictError(version int, currentStatus string) error {
	return kindError(http.StatusConflict, KindConflict,
		"the negotiation changed while processing your request, please retry",
		map[string]any{
			"version": version,
			"status":  currentStatus,
		})
}
