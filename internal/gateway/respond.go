package gateway

import (
	"encoding/json"
	"errors"
	"maps"
	"net/http"

	"go.uber.org/zap"

	"github.com/fjod/go_cart/storefront/internal/apperr"
	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/logger"
)

type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// responder writes JSON responses; failures to write are logged to log.
type responder struct {
	log *zap.Logger
}

func newResponder(log *zap.Logger) responder {
	return responder{log: logger.OrNop(log)}
}

func (rs responder) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		rs.log.Warn("failed to encode response", zap.Int("status", status), zap.Error(err))
	}
}

func (rs responder) respondError(w http.ResponseWriter, status int, code, message string) {
	rs.respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// handleError converts a classified error into the JSON error body.
// Unauthenticated failures always carry the login_required code.
func (rs responder) handleError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	resp := ErrorResponse{Error: apperr.Message(err), Code: errorCode(kind)}

	var e *apperr.Error
	if errors.As(err, &e) && len(e.Fields) > 0 {
		resp.Details = maps.Clone(e.Fields)
	}
	if reason, ok := checkout.ReasonOf(err); ok {
		if resp.Details == nil {
			resp.Details = make(map[string]string, 1)
		}
		resp.Details["reason"] = string(reason)
	}
	rs.respondJSON(w, apperr.HTTPStatus(kind), resp)
}

func errorCode(kind apperr.Kind) string {
	switch kind {
	case apperr.KindUnauthenticated:
		return "login_required"
	case apperr.KindInvalidInput:
		return "invalid_input"
	case apperr.KindInvalidQuantity:
		return "invalid_quantity"
	case apperr.KindNotFound:
		return "not_found"
	case apperr.KindConflict:
		return "conflict"
	case apperr.KindForbidden:
		return "permission_denied"
	case apperr.KindServerError:
		return "backend_error"
	case apperr.KindNetworkError:
		return "backend_unreachable"
	default:
		return "internal_error"
	}
}
