package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strings"

	"swapcore/crypto"
	"swapcore/native/common"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// StatusForError maps a protocol error kind to an HTTP status.
func StatusForError(err error) int {
	switch common.KindOf(err) {
	case common.KindValidation:
		return http.StatusBadRequest
	case common.KindAuthorization:
		return http.StatusForbidden
	case common.KindState:
		return http.StatusConflict
	case common.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusForError(err)
	body := errorResponse{Error: err.Error()}
	if kind := common.KindOf(err); kind != common.KindUnknown {
		body.Kind = kind.String()
	} else {
		s.logger.Error("request failed",
			"request_id", RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err)
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func decodeBody(r *http.Request, out any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return common.ValidationError("request body required")
		}
		return common.ValidationError("invalid payload: %v", err)
	}
	return nil
}

func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, common.ValidationError("%s required", field)
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, common.ValidationError("%s must be a base-10 integer", field)
	}
	return value, nil
}

func parseOptionalAmount(field, raw string) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return parseAmount(field, raw)
}

func parseIdentity(field, raw string) ([20]byte, error) {
	id, err := crypto.ParseIdentity(raw)
	if err != nil {
		return [20]byte{}, common.ValidationError("%s: %v", field, err)
	}
	return id, nil
}

func parseKey(field, raw string) ([32]byte, error) {
	key, err := crypto.ParseHexKey(raw)
	if err != nil {
		return [32]byte{}, common.ValidationError("%s: %v", field, err)
	}
	return key, nil
}

func parseHexBytes(field, raw string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	if trimmed == "" {
		return nil, nil
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, common.ValidationError("%s: %v", field, err)
	}
	return decoded, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func hexBytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return "0x" + hex.EncodeToString(b)
}
