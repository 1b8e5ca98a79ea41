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

package timedcache

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"kvgate.io/kvgate/go/ioutil2"
	"kvgate.io/kvgate/go/kv/log"
)

// warmUpParallelism bounds concurrent loads during WarmUp.
const warmUpParallelism = 8

// SaveKeys writes the cached keys to path, one per line. The file is
// replaced atomically.
func (c *Cache[K, V]) SaveKeys(path string) error {
	var buf bytes.Buffer
	for _, k := range c.Keys() {
		buf.WriteString(string(k))
		buf.WriteByte('\n')
	}
	return ioutil2.WriteFileAtomic(path, buf.Bytes(), 0o644)
}

// WarmUp loads every key listed in path through the loader. A missing
// file, or one last modified more than maxAge ago, is skipped. Loading
// stops when budget elapses; per-key failures are ignored. It returns the
// number of keys loaded.
func (c *Cache[K, V]) WarmUp(ctx context.Context, path string, maxAge, budget time.Duration) (int, error) {
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if maxAge > 0 && c.now().Sub(fi.ModTime()) > maxAge {
		log.Infof("cache %s: skipping warm-up, %s is older than %v", c.cfg.Name, path, maxAge)
		return 0, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	var loaded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(warmUpParallelism)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key := strings.TrimSpace(scanner.Text())
		if key == "" {
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if _, err := c.GetOrLoad(gctx, K(key)); err != nil {
				log.V(1).Infof("cache %s: warm-up of %s failed: %v", c.cfg.Name, key, err)
				return nil
			}
			loaded.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	if err := scanner.Err(); err != nil {
		return int(loaded.Load()), err
	}

	n := int(loaded.Load())
	log.Infof("cache %s: warmed up %d keys from %s", c.cfg.Name, n, path)
	return n, nil
}
