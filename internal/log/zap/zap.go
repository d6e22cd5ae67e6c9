/*
Copyright 2025 The OrgSync Authors.

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

// Package zap builds the logr.Logger the CLI hands to the rest of the
// pipeline, backed by go.uber.org/zap.
package zap

import (
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a zap backed logr.Logger writing to stdout and
// reporting its own failures to stderr. Production runs emit JSON at
// Info; debug switches to a console encoder at Debug.
func NewLogger(debug bool) logr.Logger {
	return NewLoggerTo(debug, os.Stdout, os.Stderr)
}

// NewLoggerTo is NewLogger with explicit sinks.
func NewLoggerTo(debug bool, out, errOut io.Writer) logr.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	enc := zapcore.NewJSONEncoder(encCfg)
	lvl := zap.NewAtomicLevelAt(zap.InfoLevel)
	opts := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}

	if debug {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
		lvl = zap.NewAtomicLevelAt(zap.DebugLevel)
		opts = []zap.Option{zap.Development(), zap.AddStacktrace(zap.WarnLevel)}
	}

	opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1), zap.ErrorOutput(zapcore.AddSync(errOut)))

	zl := zap.New(zapcore.NewCore(enc, zapcore.AddSync(out), lvl)).WithOptions(opts...)
	return zapr.NewLogger(zl)
}
