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

// Package locator defines how kvgate finds the backend cluster that serves
// a table, and provides an in-memory implementation. Adapters for real
// location services live in the subpackages.
package locator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"kvgate.io/kvgate/go/kv/kverrors"
)

// Status is the outcome of a location lookup as reported by the service.
type Status string

const (
	StatusOK          Status = "ok"
	StatusUnavailable Status = "unavailable"
	StatusNotFound    Status = "not_found"
	StatusInvalid     Status = "invalid"
)

// TableLimits are the provisioned request and storage limits of a table.
type TableLimits struct {
	ReadUnits  int64   `json:"read_units"`
	WriteUnits int64   `json:"write_units"`
	StorageGB  float64 `json:"storage_gb"`
}

// Location is where a table lives.
type Location struct {
	Status      Status       `json:"status"`
	ClusterName string       `json:"cluster"`
	Hints       []string     `json:"hints,omitempty"`
	Limits      *TableLimits `json:"limits,omitempty"`
	MultiRegion bool         `json:"multi_region"`
	Initialized bool         `json:"initialized"`
}

// Locator resolves a table to its Location.
type Locator interface {
	Locate(ctx context.Context, namespace, tableID string) (*Location, error)
}

// NoNamespace stands in for an empty namespace in keys and URL paths.
const NoNamespace = "_"

// PathElement returns the namespace as used in keys and URL paths.
func PathElement(namespace string) string {
	if namespace == "" {
		return NoNamespace
	}
	return namespace
}

// Decode parses the JSON form of a Location. A missing status means ok and
// a missing initialized flag means true.
func Decode(data []byte) (*Location, error) {
	var doc struct {
		Location
		Initialized *bool `json:"initialized"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, kverrors.Errorf(kverrors.Internal, "malformed location: %w", err)
	}
	loc := &doc.Location
	if loc.Status == "" {
		loc.Status = StatusOK
	}
	loc.Initialized = doc.Initialized == nil || *doc.Initialized
	return loc, nil
}

// Encode returns the JSON form of a Location.
func Encode(loc *Location) ([]byte, error) {
	return json.Marshal(loc)
}

// Static is a Locator backed by an in-memory table. Unknown tables are
// reported with StatusNotFound.
type Static struct {
	mu        sync.RWMutex
	locations map[string]Location
}

var _ Locator = (*Static)(nil)

// NewStatic returns an empty Static locator.
func NewStatic() *Static {
	return &Static{locations: make(map[string]Location)}
}

func staticKey(namespace, tableID string) string {
	return fmt.Sprintf("%s/%s", PathElement(namespace), tableID)
}

// Set registers the location of a table.
func (s *Static) Set(namespace, tableID string, loc Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations[staticKey(namespace, tableID)] = loc
}

// Delete forgets the location of a table.
func (s *Static) Delete(namespace, tableID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locations, staticKey(namespace, tableID))
}

// Locate implements Locator.
func (s *Static) Locate(_ context.Context, namespace, tableID string) (*Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.locations[staticKey(namespace, tableID)]
	if !ok {
		return &Location{Status: StatusNotFound}, nil
	}
	loc.Hints = append([]string(nil), loc.Hints...)
	return &loc, nil
}
