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
	"fmt"
	"os"
	"strings"

	"kvgate.io/kvgate/go/kv/kverrors"
	"kvgate.io/kvgate/go/kv/locator"
	"kvgate.io/kvgate/go/kv/locator/consullocator"
	"kvgate.io/kvgate/go/kv/locator/etcdlocator"
	"kvgate.io/kvgate/go/kv/locator/httplocator"
	"kvgate.io/kvgate/go/kv/servenv"
)

// buildLocator returns the location service named by --locator.
func buildLocator(c *servenv.Config) (locator.Locator, error) {
	switch c.Locator {
	case "static":
		if c.LocatorFile == "" {
			return locator.NewStatic(), nil
		}
		s, err := loadStatic(c.LocatorFile)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "http":
		l, err := httplocator.New(httplocator.Config{BaseURL: c.LocatorURL})
		if err != nil {
			return nil, err
		}
		return l, nil
	case "etcd":
		l, err := etcdlocator.New(etcdlocator.Config{
			Endpoints:   c.LocatorEndpoints,
			Prefix:      c.LocatorPrefix,
			DialTimeout: c.StoreDialTimeout,
		})
		if err != nil {
			return nil, err
		}
		servenv.OnClose(func() { l.Close() })
		return l, nil
	case "consul":
		var addr string
		if len(c.LocatorEndpoints) > 0 {
			addr = c.LocatorEndpoints[0]
		}
		l, err := consullocator.New(consullocator.Config{Address: addr, Prefix: c.LocatorPrefix})
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, kverrors.Errorf(kverrors.InvalidArgument, "unknown locator %q", c.Locator)
	}
}

// loadStatic reads a JSON object mapping "namespace/table" to a location.
// The namespace "_" stands for tables without one.
func loadStatic(path string) (*locator.Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, kverrors.Errorf(kverrors.InvalidArgument, "%s: %v", path, err)
	}

	s := locator.NewStatic()
	for key, msg := range raw {
		ns, table, ok := strings.Cut(key, "/")
		if !ok || table == "" {
			return nil, kverrors.Errorf(kverrors.InvalidArgument, "%s: key %q is not namespace/table", path, key)
		}
		if ns == locator.NoNamespace {
			ns = ""
		}
		loc, err := locator.Decode(msg)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", path, key, err)
		}
		s.Set(ns, table, *loc)
	}
	return s, nil
}
