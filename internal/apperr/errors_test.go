package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		lineOp bool
		want   Kind
	}{
		{"bad request on line op", http.StatusBadRequest, true, KindInvalidQuantity},
		{"bad request elsewhere", http.StatusBadRequest, false, KindInvalidInput},
		{"unauthorized", http.StatusUnauthorized, true, KindUnauthenticated},
		{"forbidden", http.StatusForbidden, false, KindForbidden},
		{"not found", http.StatusNotFound, true, KindNotFound},
		{"conflict", http.StatusConflict, true, KindConflict},
		{"internal", http.StatusInternalServerError, false, KindServerError},
		{"bad gateway", http.StatusBadGateway, false, KindServerError},
		{"teapot", http.StatusTeapot, false, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromStatus("cart.update", tt.status, []byte(" body "), tt.lineOp)
			assert.Equal(t, tt.want, err.Kind)
			assert.Equal(t, tt.status, err.Status)
			assert.Equal(t, "body", err.Message)
		})
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	base := FromStatus("cart.remove", http.StatusConflict, nil, true)
	wrapped := fmt.Errorf("remove line: %w", base)

	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindConflict))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestErrorsIs_MatchesKind(t *testing.T) {
	err := FromStatus("cart.get", http.StatusUnauthorized, nil, false)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.NotErrorIs(t, err, ErrEmptyCart)
}

func TestError_Format(t *testing.T) {
	err := &Error{Kind: KindNetworkError, Op: "cart.get", Err: errors.New("dial tcp: refused")}
	assert.Equal(t, "cart.get: network_error: dial tcp: refused", err.Error())
	require.ErrorContains(t, err, "refused")
}

func TestMessage(t *testing.T) {
	assert.Contains(t, Message(New(KindConflict, "op", "")), "try again")
	assert.Equal(t, "code expired", Message(New(KindInvalidInput, "op", "code expired")))
	assert.Equal(t, "Please review the highlighted fields.", Message(Validation("op", map[string]string{"phone": "required"})))
	assert.Equal(t, "", Message(nil))
}
