// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package lineserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cardinalhq/lineseek/internal/filepool"
	"github.com/cardinalhq/lineseek/internal/largefile"
	"github.com/cardinalhq/lineseek/internal/logctx"
)

type httpError struct {
	status int
	code   string
	msg    string
}

func (e httpError) Error() string { return e.msg }

func errBadRequest(msg string) error {
	return httpError{status: http.StatusBadRequest, code: "bad_request", msg: msg}
}

func errForbidden(msg string) error {
	return httpError{status: http.StatusForbidden, code: "forbidden", msg: msg}
}

func errNotFound(msg string) error {
	return httpError{status: http.StatusNotFound, code: "not_found", msg: msg}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps an error to an HTTP status and a stable code.
func statusFor(err error) (int, string) {
	var he httpError
	switch {
	case errors.As(err, &he):
		return he.status, he.code
	case errors.Is(err, largefile.ErrOpenFailure):
		return http.StatusNotFound, "open_failure"
	case errors.Is(err, largefile.ErrInvalidRange):
		return http.StatusBadRequest, "invalid_range"
	case errors.Is(err, largefile.ErrIndexInProgress):
		return http.StatusConflict, "index_in_progress"
	case errors.Is(err, largefile.ErrIndexNotReady):
		return http.StatusServiceUnavailable, "index_not_ready"
	case errors.Is(err, largefile.ErrDecodeFailure):
		return http.StatusUnprocessableEntity, "decode_failure"
	case errors.Is(err, largefile.ErrNotOpen), errors.Is(err, filepool.ErrClosed):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	logger := logctx.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", slog.String("path", r.URL.Path), slog.Int("status", status), slog.Any("error", err))
	} else {
		logger.Debug("Request rejected", slog.String("path", r.URL.Path), slog.Int("status", status), slog.Any("error", err))
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}
