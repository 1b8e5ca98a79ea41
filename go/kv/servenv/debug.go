/*
Copyright 2026 The Kvgate Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package servenv

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kvgate.io/kvgate/go/kv/kverrors"
	"kvgate.io/kvgate/go/kv/log"
)

// HealthFunc reports the health of the process: a status name, the
// reasons it is not fully healthy, and whether it can serve at all.
type HealthFunc func(ctx context.Context) (status string, reasons []string, serving bool)

// DebugHandlers are the hooks behind the debug endpoints.
type DebugHandlers struct {
	Health HealthFunc
	// Flush drops one cached table; FlushAll drops them all.
	Flush    func(namespace, table string) error
	FlushAll func()
	Gatherer prometheus.Gatherer
}

type healthResponse struct {
	Status   string   `json:"status"`
	Reasons  []string `json:"reasons,omitempty"`
	Instance string   `json:"instance"`
}

// NewDebugRouter returns the router of the debug HTTP server:
//
//	GET  /debug/health       health status as JSON, 503 when not serving
//	POST /debug/cache/flush  drop a cached table (?namespace=&table=) or all
//	GET  /metrics            Prometheus metrics
//	     /debug/pprof/...    profiles
func NewDebugRouter(h DebugHandlers) *mux.Router {
	r := mux.NewRouter()

	if h.Health != nil {
		r.HandleFunc("/debug/health", func(w http.ResponseWriter, req *http.Request) {
			ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
			defer cancel()
			status, reasons, serving := h.Health(ctx)
			code := http.StatusOK
			if !serving {
				code = http.StatusServiceUnavailable
			}
			writeJSON(w, code, healthResponse{Status: status, Reasons: reasons, Instance: instanceID})
		}).Methods(http.MethodGet)
	}

	if h.Flush != nil || h.FlushAll != nil {
		r.HandleFunc("/debug/cache/flush", func(w http.ResponseWriter, req *http.Request) {
			q := req.URL.Query()
			table := q.Get("table")
			if table == "" {
				if h.FlushAll == nil {
					http.Error(w, "table is required", http.StatusBadRequest)
					return
				}
				h.FlushAll()
				log.Infof("cache flushed from %s", req.RemoteAddr)
				w.WriteHeader(http.StatusNoContent)
				return
			}
			if h.Flush == nil {
				http.Error(w, "per-table flush not supported", http.StatusBadRequest)
				return
			}
			if err := h.Flush(q.Get("namespace"), table); err != nil {
				code := http.StatusInternalServerError
				if kverrors.Code(err) == kverrors.InvalidArgument {
					code = http.StatusBadRequest
				}
				http.Error(w, err.Error(), code)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}).Methods(http.MethodPost)
	}

	if h.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	r.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warningf("writing response: %v", err)
	}
}
