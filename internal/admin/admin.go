// Package admin serves read-only status of a running server over HTTP.
package admin

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/RoanBrand/goingest/internal/pool"
)

// Source is what the endpoints report on.
type Source interface {
	Stats() []pool.Stats
	Sessions() int
}

type health struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Slots    int    `json:"slots"`
}

func NewRouter(src Source) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, health{Status: "ok", Sessions: src.Sessions(), Slots: len(src.Stats())})
	})
	r.Get("/slots", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, src.Stats())
	})
	r.Get("/slots/{slot}", func(w http.ResponseWriter, r *http.Request) {
		stats := src.Stats()
		i, err := strconv.Atoi(chi.URLParam(r, "slot"))
		if err != nil || i < 0 || i >= len(stats) {
			http.Error(w, "no such slot", http.StatusNotFound)
			return
		}
		writeJSON(w, stats[i])
	})
	return r
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("admin: write response")
	}
}

// Setup serves the endpoints on address. Serve errors are sent on errs.
func Setup(address string, src Source, errs chan<- error) (*http.Server, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: NewRouter(src)}
	go func() {
		if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
			errs <- err
			return
		}
		errs <- nil
	}()
	return srv, nil
}
