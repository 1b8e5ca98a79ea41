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

package registry

import (
	"context"
	"fmt"
	"sort"

	"kvgate.io/kvgate/go/kv/store"
)

// Health is the aggregated state of the connected clusters.
type Health int

const (
	Green Health = iota
	Yellow
	Red
)

func (h Health) String() string {
	switch h {
	case Green:
		return "GREEN"
	case Yellow:
		return "YELLOW"
	case Red:
		return "RED"
	}
	return fmt.Sprintf("Health(%d)", int(h))
}

// CheckHealth reports RED if any cluster is unreachable, reports no nodes,
// has no active node or cannot report its nodes; YELLOW if some nodes are
// inactive; GREEN otherwise. The reasons explain every non-green finding.
func (r *Registry) CheckHealth(ctx context.Context) (Health, []string) {
	status := Green
	var reasons []string
	raise := func(to Health, format string, args ...any) {
		if to > status {
			status = to
		}
		reasons = append(reasons, fmt.Sprintf(format, args...))
	}

	r.unreachable.Range(func(k, v any) bool {
		raise(Red, "cluster %s is unreachable: %v", k, v)
		return true
	})

	r.connected.Range(func(k, v any) bool {
		name := k.(string)
		nodes, err := v.(store.Handle).HealthMetrics(ctx)
		if err != nil {
			raise(Red, "cluster %s: cannot read node states: %v", name, err)
			return true
		}
		if len(nodes) == 0 {
			raise(Red, "cluster %s reports no nodes", name)
			return true
		}
		var inactive []string
		for _, n := range nodes {
			if !n.Active {
				inactive = append(inactive, n.Name)
			}
		}
		switch {
		case len(inactive) == len(nodes):
			raise(Red, "cluster %s: all %d nodes inactive", name, len(nodes))
		case len(inactive) > 0:
			raise(Yellow, "cluster %s: %d of %d nodes inactive: %v", name, len(inactive), len(nodes), inactive)
		}
		return true
	})

	sort.Strings(reasons)
	return status, reasons
}
