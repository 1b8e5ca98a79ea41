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

package utils

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetFlagVars(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)

	var (
		s   string
		d   time.Duration
		n   int
		ss  []string
		b   bool
		i64 int64
	)
	SetFlagStringVar(fs, &s, "locator", "static", "")
	SetFlagDurationVar(fs, &d, "cache-expiration", time.Minute, "")
	SetFlagIntVar(fs, &n, "pool-size", 4, "")
	SetFlagStringSliceVar(fs, &ss, "hints", nil, "")
	SetFlagBoolVar(fs, &b, "enabled", false, "")
	SetFlagInt64Var(fs, &i64, "limit", 1, "")

	require.NoError(t, fs.Parse([]string{"--locator=etcd", "--cache-expiration=3s", "--hints=a:1,b:2", "--enabled", "--limit=7"}))
	assert.Equal(t, "etcd", s)
	assert.Equal(t, 3*time.Second, d)
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"a:1", "b:2"}, ss)
	assert.True(t, b)
	assert.EqualValues(t, 7, i64)
}

func TestNormalizeUnderscoresToDashes(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.SetNormalizeFunc(NormalizeUnderscoresToDashes)

	var d time.Duration
	SetFlagDurationVar(fs, &d, "connect-lock-timeout", time.Second, "")
	require.NoError(t, fs.Parse([]string{"--connect_lock_timeout=5s"}))
	assert.Equal(t, 5*time.Second, d)

	tests := []struct {
		in, want string
	}{
		{"log_dir", "log_dir"},
		{"cache_refresh", "cache-refresh"},
		{"mixed-name_here", "mixed-name_here"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, pflag.NormalizedName(tt.want), NormalizeUnderscoresToDashes(fs, tt.in))
		})
	}
}
