package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/SiteGenerator/internal/service"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError renders err as {"error", "code", ...details}. Internal errors
// are logged and hidden from the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := service.AsAppError(err)
	status := appErr.HTTPStatus()
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", appErr.Code,
			"err", err,
			"request_id", middleware.GetReqID(r.Context()),
		)
	}

	body := make(map[string]any, len(appErr.Details)+2)
	for k, v := range appErr.Details {
		body[k] = v
	}
	body["error"] = appErr.Message
	body["code"] = appErr.Code
	writeJSON(w, status, body)
}

func badRequest(message string) error {
	return service.NewAppError(service.CodeValidation, message, service.ErrValidation)
}

// decodeJSON reads a JSON body into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("Request body is empty.")
		}
		return badRequest("Invalid JSON body.")
	}
	return nil
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

// wantsJSON reports whether the caller expects a JSON reply instead of a redirect.
func wantsJSON(r *http.Request) bool {
	return isJSON(r) || strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest")
}

func parseID(r *http.Request, param string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("Invalid id.")
	}
	return id, nil
}
