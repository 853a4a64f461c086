package walletserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/attaboy/gamecallback/internal/guard"
	"github.com/attaboy/gamecallback/internal/orchestrator"
	"github.com/attaboy/gamecallback/internal/provider"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

// CallbackHandler creates the HTTP handler for every provider callback.
func CallbackHandler(callbacks Callbacks, limiter *guard.RateLimiter, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := domain.ParseProvider(chi.URLParam(r, "provider"))
		if err != nil {
			RespondJSON(w, http.StatusNotFound, errorBody("UNKNOWN_PROVIDER", err.Error()))
			return
		}
		clientID, err := strconv.ParseInt(chi.URLParam(r, "clientID"), 10, 64)
		if err != nil || clientID <= 0 {
			RespondJSON(w, http.StatusNotFound, errorBody("UNKNOWN_CLIENT", "client id must be a positive integer"))
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				RespondJSON(w, http.StatusRequestEntityTooLarge, errorBody("BODY_TOO_LARGE", fmt.Sprintf("body exceeds %d bytes", maxBodyBytes)))
				return
			}
			RespondJSON(w, http.StatusBadRequest, errorBody("INVALID_BODY", "could not read request body"))
			return
		}

		raw := &provider.RawRequest{
			Action:      chi.URLParam(r, "action"),
			ClientID:    clientID,
			Body:        body,
			ContentType: r.Header.Get("Content-Type"),
			Header:      r.Header,
			Query:       r.URL.Query(),
			ReceivedAt:  time.Now(),
		}

		var out *orchestrator.Outcome
		if res := limiter.Check(r.Context(), p, clientID); !res.Allowed {
			out, err = callbacks.Refuse(p, raw, res.Reason)
		} else {
			// A provider hanging up must not abort a saga halfway; collaborator
			// timeouts still bound it.
			out, err = callbacks.Handle(context.WithoutCancel(r.Context()), p, raw)
		}
		if err != nil {
			logger.Error("callback failed without response",
				"provider", p,
				"client_id", clientID,
				"action", raw.Action,
				"request_id", GetRequestID(r.Context()),
				"error", err)
			RespondJSON(w, http.StatusInternalServerError, errorBody("INTERNAL_ERROR", "internal server error"))
			return
		}
		respondRaw(w, out.HTTPStatus, out.Body)
	}
}
