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

package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"
)

var (
	logFormat string
	logLevel  string

	// structured is set once Init has installed an slog handler. Until then
	// every structured call is rendered through glog.
	structured atomic.Bool

	levelNames = map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
)

// Init configures logging based on the parsed flags. Structured logging is
// only switched on when --log-fmt was given on the command line.
func Init(fs *pflag.FlagSet) error {
	if fs == nil {
		return nil
	}
	if f := fs.Lookup("log-fmt"); f == nil || !f.Changed {
		return nil
	}

	level, ok := levelNames[strings.ToLower(strings.TrimSpace(logLevel))]
	if !ok {
		return fmt.Errorf("invalid log-level %q: expected debug, info, warn, or error", logLevel)
	}
	handler, err := newHandler(os.Stderr, logFormat, &slog.HandlerOptions{AddSource: true, Level: level})
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(handler))
	structured.Store(true)
	return nil
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) (slog.Handler, error) {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	case "logfmt":
		return slog.NewTextHandler(w, opts), nil
	case "text":
		noColor := true
		if f, ok := w.(*os.File); ok {
			noColor = !isatty.IsTerminal(f.Fd())
		}
		return tint.NewHandler(w, &tint.Options{
			AddSource:  opts.AddSource,
			Level:      opts.Level,
			TimeFormat: time.StampMilli,
			NoColor:    noColor,
		}), nil
	default:
		return nil, fmt.Errorf("invalid log-fmt %q: expected json, logfmt or text", format)
	}
}

func logS(level slog.Level, msg string, args ...any) {
	if !structured.Load() {
		// Skip logS and the exported wrapper.
		line := append([]any{msg, " "}, args...)
		switch {
		case level >= slog.LevelError:
			glog.ErrorDepth(2, line...)
		case level >= slog.LevelWarn:
			glog.WarningDepth(2, line...)
		default:
			glog.InfoDepth(2, line...)
		}
		return
	}

	logger := slog.Default()
	ctx := context.Background()
	if !logger.Enabled(ctx, level) {
		return
	}

	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	record := slog.NewRecord(time.Now(), level, msg, pcs[0])
	record.Add(args...)
	_ = logger.Handler().Handle(ctx, record)
}

// InfoS logs at the Info level.
func InfoS(msg string, args ...any) { logS(slog.LevelInfo, msg, args...) }

// WarnS logs at the Warn level.
func WarnS(msg string, args ...any) { logS(slog.LevelWarn, msg, args...) }

// ErrorS logs at the Error level.
func ErrorS(msg string, args ...any) { logS(slog.LevelError, msg, args...) }

// DebugS logs at the Debug level.
func DebugS(msg string, args ...any) { logS(slog.LevelDebug, msg, args...) }

// SetLogger replaces the structured logger used by the log package. The
// returned function restores the previous logger. Used for testing.
func SetLogger(logger *slog.Logger) func() {
	if logger == nil {
		return func() {}
	}

	prevEnabled := structured.Load()
	prevDefault := slog.Default()

	slog.SetDefault(logger)
	structured.Store(true)

	return func() {
		slog.SetDefault(prevDefault)
		structured.Store(prevEnabled)
	}
}
