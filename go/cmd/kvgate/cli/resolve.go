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

package cli

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"kvgate.io/kvgate/go/kv/kverrors"
	"kvgate.io/kvgate/go/kv/locator"
	"kvgate.io/kvgate/go/kv/resolver"
	"kvgate.io/kvgate/go/kv/throttle"
)

type resolveResponse struct {
	Table       string               `json:"table"`
	Cluster     string               `json:"cluster"`
	TableID     string               `json:"table_id"`
	Version     int64                `json:"schema_version"`
	MultiRegion bool                 `json:"multi_region,omitempty"`
	Limits      *locator.TableLimits `json:"limits,omitempty"`
}

// registerResolveRoute adds GET /v1/tables/{namespace}/{table}. Failed
// lookups go through the error throttle, so a client that keeps asking for
// missing tables gets slower answers and eventually none.
func registerResolveRoute(r *mux.Router, res resolver.Resolver, th *throttle.Throttle) {
	r.HandleFunc("/v1/tables/{namespace}/{table}", resolveHandler(res, th)).Methods(http.MethodGet)
}

func resolveHandler(res resolver.Resolver, th *throttle.Throttle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		ns := vars["namespace"]
		if ns == locator.NoNamespace {
			ns = ""
		}

		entry, err := res.Resolve(r.Context(), ns, vars["table"])
		if err == nil {
			writeResolved(w, entry)
			return
		}

		code := httpStatus(err)
		respond := func() { http.Error(w, err.Error(), code) }
		done := make(chan struct{})
		flagged := kverrors.Code(err) == kverrors.InvalidArgument
		switch th.Classify(throttle.ClientIP(r), flagged, func() { close(done) }) {
		case throttle.RespondNormally:
			respond()
		case throttle.ResponseDelayed:
			select {
			case <-done:
				respond()
			case <-r.Context().Done():
			}
		case throttle.DoNotRespond:
			// Drops the connection without writing a response.
			panic(http.ErrAbortHandler)
		}
	}
}

func writeResolved(w http.ResponseWriter, e *resolver.TableEntry) {
	body := resolveResponse{
		Table:       e.Table.FullName(),
		Cluster:     e.ClusterName,
		TableID:     e.Table.ID,
		Version:     e.Table.Version,
		MultiRegion: e.MultiRegion,
		Limits:      e.Limits,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func httpStatus(err error) int {
	switch kverrors.Code(err) {
	case kverrors.InvalidArgument:
		return http.StatusBadRequest
	case kverrors.NotFound:
		return http.StatusNotFound
	case kverrors.ResourceExhausted:
		return http.StatusTooManyRequests
	case kverrors.Unavailable, kverrors.FailedPrecondition:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
