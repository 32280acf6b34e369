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

// Package demo registers the "demo" application, a small router used to
// exercise a workvisor deployment.  Import it for its side effect.
package demo

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/workvisor/workvisor/app"
)

const Name = "demo"

const mimeJson = "application/json; charset=UTF-8"

func init() {
	app.Register(Name, func() (http.Handler, error) {
		return NewRouter(), nil
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJson(w http.ResponseWriter, code int, v interface{}) {
	b, e := json.Marshal(v)
	if e != nil {
		http.Error(w, e.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", mimeJson)
	w.WriteHeader(code)
	w.Write(b)
}

// cors allows any origin, method and header.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "*")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func hello(w http.ResponseWriter, r *http.Request) {
	writeJson(w, http.StatusOK, map[string]interface{}{
		"message": "hello",
		"pid":     os.Getpid(),
	})
}

// sleep holds the request for the given number of seconds, giving up
// early if the request is canceled.
func sleep(w http.ResponseWriter, r *http.Request) {
	secs, e := strconv.ParseFloat(r.URL.Query().Get("seconds"), 64)
	if e != nil || secs < 0 {
		writeJson(w, http.StatusBadRequest, errorBody{"seconds must be a non-negative number"})
		return
	}
	d := time.Duration(secs * float64(time.Second))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		writeJson(w, http.StatusOK, map[string]string{"slept": d.String()})
	case <-r.Context().Done():
	}
}

func echo(w http.ResponseWriter, r *http.Request) {
	var v interface{}
	if e := json.NewDecoder(r.Body).Decode(&v); e != nil {
		writeJson(w, http.StatusBadRequest, errorBody{"invalid JSON: " + e.Error()})
		return
	}
	writeJson(w, http.StatusOK, v)
}

type reportRequest struct {
	FileID string `json:"file_id"`
}

// generateReport validates the request shape of the report endpoint.  The
// transcription and scoring pipeline behind it is provided by the real
// application, not by the demo.
func generateReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if e := json.NewDecoder(r.Body).Decode(&req); e != nil {
		writeJson(w, http.StatusBadRequest, errorBody{"invalid JSON: " + e.Error()})
		return
	}
	if req.FileID == "" {
		writeJson(w, http.StatusBadRequest, errorBody{"Missing file_id"})
		return
	}
	writeJson(w, http.StatusNotImplemented,
		errorBody{fmt.Sprintf("no report pipeline configured for %s", req.FileID)})
}

// NewRouter returns the demo application's handler.  CORS wraps the
// whole router, since mux middleware only sees matched routes and a
// preflight never matches a POST route.
func NewRouter() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", hello).Methods("GET")
	r.HandleFunc("/sleep", sleep).Methods("GET")
	r.HandleFunc("/echo", echo).Methods("POST")
	r.HandleFunc("/generate-report", generateReport).Methods("POST")
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}).Methods("GET")
	return cors(r)
}
