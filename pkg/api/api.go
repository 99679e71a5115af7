package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	pkgerrors "github.com/absmach/fedsync/pkg/errors"
	kithttp "github.com/go-kit/kit/transport/http"
)

const (
	ContentType     = "application/json"
	CBORContentType = "application/cbor"
)

// Response is implemented by every endpoint response so the encoder can set
// status and headers.
type Response interface {
	Code() int
	Headers() map[string]string
	Empty() bool
}

type errorRes struct {
	Error string `json:"error"`
}

func EncodeResponse(_ context.Context, w http.ResponseWriter, response any) error {
	if ar, ok := response.(Response); ok {
		for k, v := range ar.Headers() {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", ContentType)
		w.WriteHeader(ar.Code())

		if ar.Empty() {
			return nil
		}
	}

	return json.NewEncoder(w).Encode(response)
}

func EncodeError(_ context.Context, err error, w http.ResponseWriter) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(StatusCode(err))

	if err := json.NewEncoder(w).Encode(errorRes{Error: err.Error()}); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func StatusCode(err error) int {
	switch {
	case errors.Is(err, pkgerrors.ErrConfiguration),
		errors.Is(err, pkgerrors.ErrInvalidData),
		errors.Is(err, pkgerrors.ErrEmptyKey):
		return http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrNotFound),
		errors.Is(err, pkgerrors.ErrNoCheckpoint):
		return http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrRosterClosed),
		errors.Is(err, pkgerrors.ErrRosterNotOpen),
		errors.Is(err, pkgerrors.ErrEntityExists),
		errors.Is(err, pkgerrors.ErrNotSeeded):
		return http.StatusConflict
	case errors.Is(err, pkgerrors.ErrQuorumTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, pkgerrors.ErrCheckpointWrite):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// DecodeError turns an error response back into the sentinel its status code
// was derived from. ErrEntityExists and ErrNotSeeded share 409 with the roster
// errors, so the message decides between them.
func DecodeError(code int, body []byte) error {
	var res errorRes
	msg := string(body)
	if err := json.Unmarshal(body, &res); err == nil && res.Error != "" {
		msg = res.Error
	}

	var sentinel error
	switch code {
	case http.StatusBadRequest:
		sentinel = pkgerrors.ErrInvalidData
		if contains(msg, pkgerrors.ErrConfiguration) {
			sentinel = pkgerrors.ErrConfiguration
		}
	case http.StatusNotFound:
		sentinel = pkgerrors.ErrNotFound
		if contains(msg, pkgerrors.ErrNoCheckpoint) {
			sentinel = pkgerrors.ErrNoCheckpoint
		}
	case http.StatusConflict:
		sentinel = pkgerrors.ErrRosterClosed
		for _, e := range []error{pkgerrors.ErrRosterNotOpen, pkgerrors.ErrEntityExists, pkgerrors.ErrNotSeeded} {
			if contains(msg, e) {
				sentinel = e

				break
			}
		}
	case http.StatusGatewayTimeout:
		sentinel = pkgerrors.ErrQuorumTimeout
	case http.StatusServiceUnavailable:
		sentinel = pkgerrors.ErrCheckpointWrite
	default:
		return fmt.Errorf("unexpected status %d: %s", code, msg)
	}

	if msg == sentinel.Error() {
		return sentinel
	}

	return fmt.Errorf("%w: %s", sentinel, msg)
}

func contains(msg string, err error) bool {
	return strings.Contains(msg, err.Error())
}

// LoggingErrorEncoder logs server side failures before encoding them.
func LoggingErrorEncoder(logger *slog.Logger, enc kithttp.ErrorEncoder) kithttp.ErrorEncoder {
	return func(ctx context.Context, err error, w http.ResponseWriter) {
		if code := StatusCode(err); code >= http.StatusInternalServerError && code != http.StatusGatewayTimeout {
			logger.Error("request failed", slog.Int("status", code), slog.Any("error", err))
		}
		enc(ctx, err, w)
	}
}
