// Copyright 2026 The Workvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/workvisor/workvisor"
)

// Handler wraps a Supervisor, adding http.Handler functionality.
type Handler struct {
	s      *workvisor.Supervisor
	log    *workvisor.Log
	r      *mux.Router
	logger logr.Logger
	user   string
	hash   []byte
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJson(w http.ResponseWriter, v interface{}) {
	if b, e := json.Marshal(v); e != nil {
		h.internalError(w, e)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.Write(b)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	if b, err := json.Marshal(e); err != nil {
		h.internalError(w, err)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(e.Code)
		w.Write(b)
	}
}

func formatEtag(id int64) string {
	return `"` + strconv.FormatInt(id, 10) + `"`
}

func parseEtag(s string) (int64, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "W/")
	n, e := strconv.ParseInt(strings.Trim(s, `"`), 10, 64)
	return n, e == nil
}

// conditional implements If-None-Match, with the long poll extension
// described by PollTimeHeader.  It returns false, having written 304 Not
// Modified, if the resource is unchanged.  Otherwise the resource must be
// written; its ETag header is already set.
func (h *Handler) conditional(w http.ResponseWriter, r *http.Request,
	current int64, watch func(int64, time.Duration) int64) bool {

	if old, ok := parseEtag(r.Header.Get("If-None-Match")); ok && old == current {
		if secs, e := strconv.Atoi(r.Header.Get(PollTimeHeader)); e == nil && secs > 0 {
			wait := time.Duration(secs) * time.Second
			if wait > MaxPollTime {
				wait = MaxPollTime
			}
			current = watch(old, wait)
		}
		if current == old {
			w.Header().Set("ETag", formatEtag(current))
			w.WriteHeader(http.StatusNotModified)
			return false
		}
	}
	w.Header().Set("ETag", formatEtag(current))
	return true
}

func (h *Handler) workerID(r *http.Request) (int, *Error) {
	id, e := strconv.Atoi(mux.Vars(r)["id"])
	if e != nil {
		return 0, &Error{http.StatusBadRequest, "Bad worker id"}
	}
	return id, nil
}

func (h *Handler) listWorkers(w http.ResponseWriter, r *http.Request) {
	if h.conditional(w, r, h.s.Serial(), h.s.WatchSerial) {
		h.writeJson(w, h.s.Workers())
	}
}

func (h *Handler) getWorker(w http.ResponseWriter, r *http.Request) {
	id, err := h.workerID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !h.conditional(w, r, h.s.Serial(), h.s.WatchSerial) {
		return
	}
	info, e := h.s.Worker(id)
	if e != nil {
		h.writeError(w, &Error{http.StatusNotFound, "Worker not found"})
		return
	}
	h.writeJson(w, info)
}

func (h *Handler) killWorker(w http.ResponseWriter, r *http.Request) {
	id, err := h.workerID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	switch e := h.s.KillWorker(id); {
	case e == nil:
		h.logger.Info("worker killed by admin request", "worker", id,
			"remote", r.RemoteAddr)
		h.writeJson(w, ok)
	case errors.Is(e, workvisor.ErrUnknownWorker):
		h.writeError(w, &Error{http.StatusNotFound, "Worker not found"})
	case errors.Is(e, workvisor.ErrShuttingDown):
		h.writeError(w, &Error{http.StatusConflict, e.Error()})
	default:
		h.writeError(w, &Error{http.StatusInternalServerError, e.Error()})
	}
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	if h.conditional(w, r, h.s.Serial(), h.s.WatchSerial) {
		h.writeJson(w, h.s.Status())
	}
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	if h.log == nil {
		h.writeError(w, &Error{http.StatusNotFound, "No log"})
		return
	}
	if !h.conditional(w, r, h.log.ID(), h.log.Watch) {
		return
	}
	recs, id := h.log.GetRecords(0)
	w.Header().Set("ETag", formatEtag(id))
	h.writeJson(w, recs)
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.s.Live() == 0 {
		http.Error(w, "no live workers", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("ok\n"))
}

// SetBasicAuth requires every request, other than health checks, to carry
// the given user and a password matching the bcrypt hash.
func (h *Handler) SetBasicAuth(user string, hash []byte) {
	h.user = user
	h.hash = hash
}

// SetLogger sets the logger used for audit messages.
func (h *Handler) SetLogger(l logr.Logger) {
	h.logger = l
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.hash == nil || r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != h.user ||
			bcrypt.CompareHashAndPassword(h.hash, []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="workvisor"`)
			h.writeError(w, &Error{http.StatusUnauthorized, "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.r.ServeHTTP(w, req)
}

// NewHandler returns the admin API for s.  The log may be nil.
func NewHandler(s *workvisor.Supervisor, log *workvisor.Log) *Handler {
	r := mux.NewRouter()
	h := &Handler{s: s, log: log, r: r, logger: logr.Discard()}

	registry := prometheus.NewRegistry()
	registry.MustRegister(workvisor.NewCollector(s))
	metrics := promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})

	r.Use(h.authenticate)
	r.HandleFunc("/workers", h.listWorkers).Methods("GET")
	r.HandleFunc("/workers/{id}", h.getWorker).Methods("GET")
	r.HandleFunc("/workers/{id}/kill", h.killWorker).Methods("POST")
	r.HandleFunc("/status", h.getStatus).Methods("GET")
	r.HandleFunc("/log", h.getLog).Methods("GET")
	r.Handle("/metrics", metrics).Methods("GET")
	r.HandleFunc("/healthz", h.healthz).Methods("GET")
	return h
}
