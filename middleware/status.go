package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/MrEthical07/stampauth"
)

// StatusCode maps an Engine error to an HTTP status. Wrong MFA codes during
// enrollment are a 400, like every other invalid-credentials error.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch stampauth.Kind(err) {
	case stampauth.KindInvalidCredentials, stampauth.KindBusinessRule:
		return http.StatusBadRequest
	case stampauth.KindInvalidToken, stampauth.KindUnauthenticated:
		return http.StatusUnauthorized
	case stampauth.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteError writes err as a JSON body. Token and session failures carry one
// fixed message per kind so callers cannot tell revoked from expired or
// forged. Internal errors are reported without detail.
func WriteError(w http.ResponseWriter, err error) {
	code := StatusCode(err)
	kind := stampauth.Kind(err)
	body := errorBody{Error: kind.String()}
	switch kind {
	case stampauth.KindInternal:
	case stampauth.KindInvalidToken:
		body.Message = stampauth.ErrInvalidToken.Error()
	case stampauth.KindUnauthenticated:
		body.Message = stampauth.ErrUnauthenticated.Error()
	default:
		body.Message = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
