package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/shapetiles/internal/core/model"
	"github.com/mohammed-shakir/shapetiles/internal/core/observability"
	"github.com/mohammed-shakir/shapetiles/internal/dispatch"
)

const maxCommandBody = 1 << 20

// CommandDispatcher runs one shell verb.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, verb string, req model.CommandRequest) (model.Envelope, error)
}

// HandleCommand serves POST /commands/{verb}. Dispatcher outcomes are JSON
// envelopes; transport errors are plain text.
func HandleCommand(logger *slog.Logger, d CommandDispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, "/commands/{verb}", sw.code, time.Since(start).Seconds())
		}()

		verb := chi.URLParam(r, "verb")
		req, err := decodeCommand(r.Body)
		if err != nil {
			http.Error(sw, "malformed request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		env, err := d.Dispatch(r.Context(), verb, req)
		if errors.Is(err, dispatch.ErrUnknownVerb) {
			http.Error(sw, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			logger.ErrorContext(r.Context(), "dispatch", "verb", verb, "err", err)
			http.Error(sw, err.Error(), http.StatusInternalServerError)
			return
		}

		sw.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(sw).Encode(env); err != nil {
			logger.WarnContext(r.Context(), "write envelope", "verb", verb, "err", err)
		}
	}
}

// HandleVerbs lists the verbs POST /commands/{verb} accepts.
func HandleVerbs() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string][]string{"verbs": dispatch.Verbs()})
	}
}

// decodeCommand accepts an empty body as a request with no path.
func decodeCommand(body io.Reader) (model.CommandRequest, error) {
	var req model.CommandRequest
	b, err := io.ReadAll(io.LimitReader(body, maxCommandBody+1))
	if err != nil {
		return req, err
	}
	if len(b) > maxCommandBody {
		return req, errors.New("body too large")
	}
	if strings.TrimSpace(string(b)) == "" {
		return req, nil
	}
	if err := json.Unmarshal(b, &req); err != nil {
		return req, err
	}
	return req, nil
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
