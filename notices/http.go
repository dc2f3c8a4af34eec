// CLAUDE:SUMMARY Status HTTP surface of serve mode: chi routes for health, runs, sent ledger and run trigger, optional bcrypt Basic Auth.
package notices

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/avis/idgen"
	"github.com/hazyhaar/avis/kit"
	"github.com/hazyhaar/avis/shield"
)

// maxLimit caps list endpoints.
const maxLimit = 500

// Handler returns the status router. ctx bounds runs started by POST /runs.
//
//	GET  /healthz
//	GET  /runs?limit=n
//	GET  /runs/latest
//	GET  /runs/{id}/sources
//	GET  /sent?limit=n
//	POST /runs[?wait=true]
func (svc *Service) Handler(ctx context.Context) http.Handler {
	var triggered atomic.Bool

	trigger := svc.runEndpoint()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	for _, mw := range shield.Stack(svc.logger) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Ping(r.Context()); err != nil {
			writeError(w, 503, err)
			return
		}
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		if svc.cfg.HTTP.PasswordHash != "" {
			r.Use(basicAuth(svc.cfg.HTTP.User, svc.cfg.HTTP.PasswordHash))
		}

		r.Get("/runs", func(w http.ResponseWriter, r *http.Request) {
			runs, err := svc.Runs(r.Context(), queryInt(r, "limit", 20))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, runs)
		})

		r.Get("/runs/latest", func(w http.ResponseWriter, r *http.Request) {
			run, err := svc.LatestRun(r.Context())
			if err != nil {
				writeError(w, 500, err)
				return
			}
			if run == nil {
				writeJSON(w, 404, map[string]string{"error": "no run recorded"})
				return
			}
			logs, err := svc.FetchLogs(r.Context(), run.ID)
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]any{"run": run, "sources": logs})
		})

		r.Get("/runs/{id}/sources", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			if _, err := idgen.Parse(strings.TrimPrefix(id, runIDPrefix)); err != nil {
				writeError(w, 400, fmt.Errorf("run id %q: %w", id, err))
				return
			}
			logs, err := svc.FetchLogs(r.Context(), id)
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, logs)
		})

		r.Get("/sent", func(w http.ResponseWriter, r *http.Request) {
			entries, err := svc.Recent(r.Context(), queryInt(r, "limit", 50))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, entries)
		})

		r.Post("/runs", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("wait") == "true" {
				sum, err := trigger(r.Context(), &runRequest{})
				if err != nil {
					writeError(w, runErrorStatus(err), err)
					return
				}
				writeJSON(w, 200, sum)
				return
			}
			if !triggered.CompareAndSwap(false, true) {
				writeError(w, 409, ErrRunInProgress)
				return
			}
			logger := shield.GetLogger(r.Context())
			go func() {
				defer triggered.Store(false)
				if _, err := trigger(kit.WithTransport(ctx, "http"), &runRequest{}); err != nil {
					logger.Error("notices: triggered run", "error", err)
				}
			}()
			writeJSON(w, 202, map[string]string{"status": "started"})
		})
	})

	return r
}

func runErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrRunInProgress):
		return 409
	case errors.Is(err, ErrConfig):
		return 400
	default:
		return 500
	}
}

func basicAuth(user, hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if ok && subtle.ConstantTimeCompare([]byte(u), []byte(user)) == 1 &&
				bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) == nil {
				next.ServeHTTP(w, r)
				return
			}
			shield.GetLogger(r.Context()).Debug("notices: basic auth rejected", "remote", kit.GetRemoteAddr(r.Context()))
			w.Header().Set("WWW-Authenticate", `Basic realm="avis"`)
			writeJSON(w, 401, map[string]string{"error": "unauthorized"})
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return def
	}
	if v > maxLimit {
		return maxLimit
	}
	return v
}
