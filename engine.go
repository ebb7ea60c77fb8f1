// Copyright 2020-2021 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package petty is the top-level orchestration layer: Config carries
// the feature flags a caller sets once, and Engine wraps the compiler
// (package compile) and the two executors (packages exec and stream)
// behind Compile/Transform/TransformStream, the way the teacher's
// Engine wraps its analyzer and row executor behind AnalyzeQuery/Query.
package petty

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sigmundgranaas/petty/compile"
	"github.com/sigmundgranaas/petty/exec"
	"github.com/sigmundgranaas/petty/instr"
	"github.com/sigmundgranaas/petty/ir"
	"github.com/sigmundgranaas/petty/stream"
	"github.com/sigmundgranaas/petty/tree"
	"github.com/sigmundgranaas/petty/xpath1"
	"github.com/sigmundgranaas/petty/xpath1/builtin"
)

// ExtensionKey names one caller-registered function by qualified name
// and exact arity (spec §6.5 "extension functions registered by
// qualified name and arity"), the user-facing counterpart of the
// builtin registry's internal arity-range entries.
type ExtensionKey struct {
	Name  tree.QName
	Arity int
}

// Function is the signature an extension function registers under
// (spec §6.5), a named alias of xpath1.Func so callers of this package
// never need to import xpath1 themselves just to add one.
type Function = xpath1.Func

// Config carries the settings an Engine applies to every Compile and
// Transform call, the Go-native equivalent of the teacher's
// sql.Context session configuration.
type Config struct {
	// Strict governs undeclared-variable and other non-fatal-by-default
	// policy violations (spec §7): true raises an error, false falls
	// back to the permissive default (e.g. an empty node-set).
	Strict bool

	// Streaming only documents which path a given Engine is configured
	// for; neither Transform nor TransformStream reads it. Transform
	// always uses the tree-building executor (J), and callers that want
	// the streaming executor (K) call TransformStream directly.
	Streaming bool

	// InitialMode seeds the mode templates are matched under when a
	// Transform/TransformStream call doesn't override it with its own
	// mode argument. Empty means the stylesheet's own default.
	InitialMode string

	// Logger receives compile and execution diagnostics (forward-
	// compatible element warnings, streaming-rejection reasons,
	// xsl:message output). Defaults to logrus.StandardLogger().
	Logger *logrus.Entry

	// Extensions layers caller-supplied functions over the XPath 1.0
	// builtin library (spec §6.5).
	Extensions map[ExtensionKey]Function
}

// Engine is a configured compiler+executor pair. Compiled stylesheets
// are read-only and may be reused across any number of Transform/
// TransformStream calls, including concurrently (see package batch).
type Engine struct {
	cfg   Config
	funcs xpath1.FunctionRegistry
	log   *logrus.Entry
}

// New creates an Engine from cfg. The zero Config is valid and yields
// non-strict, non-streaming, default-mode behavior with a standard
// logger and no extension functions.
func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		cfg:   cfg,
		funcs: extendRegistry(builtin.NewRegistry(), cfg.Extensions),
		log:   log,
	}
}

// extensionRegistry layers Config.Extensions over a base registry, the
// same wrapping-registry shape exec.wrapRegistry uses to add
// dispatch-context functions without modifying xpath1/builtin.
type extensionRegistry struct {
	base xpath1.FunctionRegistry
	ext  map[ExtensionKey]Function
}

func extendRegistry(base xpath1.FunctionRegistry, ext map[ExtensionKey]Function) xpath1.FunctionRegistry {
	if len(ext) == 0 {
		return base
	}
	return &extensionRegistry{base: base, ext: ext}
}

func (r *extensionRegistry) Lookup(name tree.QName, arity int) (xpath1.Func, bool) {
	if fn, ok := r.ext[ExtensionKey{Name: name, Arity: arity}]; ok {
		return fn, true
	}
	return r.base.Lookup(name, arity)
}

// Compile parses and compiles an XSLT-like stylesheet source (spec
// component I) into a reusable *instr.Stylesheet.
func (e *Engine) Compile(source string) (*instr.Stylesheet, error) {
	ss, err := compile.Compile(source, compile.WithLogger(e.log))
	if err != nil {
		return nil, errors.Wrap(err, "compile stylesheet")
	}
	return ss, nil
}

// Transform runs the tree-building executor (component J) over doc,
// dispatching from mode (falling back to Config.InitialMode, then the
// stylesheet's own default), and returns the finished output tree.
func (e *Engine) Transform(ss *instr.Stylesheet, doc tree.Node, mode string) ([]*ir.IRNode, error) {
	builder := ir.NewTreeBuilder()
	opts := []exec.Option{exec.WithStrict(e.cfg.Strict), exec.WithLogger(e.log)}
	ex := exec.New(ss, builder, e.funcs, opts...)
	if err := ex.Run(doc, e.resolveMode(mode)); err != nil {
		return nil, errors.Wrap(err, "transform")
	}
	return builder.Finalize(), nil
}

// TransformStream runs the streaming executor (component K) over src,
// rejecting any template the streamability analyzer (component L)
// cannot prove safe to evaluate one event at a time rather than
// silently falling back to tree-building.
func (e *Engine) TransformStream(ss *instr.Stylesheet, src stream.Source, mode string) ([]*ir.IRNode, error) {
	builder := ir.NewTreeBuilder()
	ex := stream.New(ss, builder, e.funcs, stream.WithLogger(e.log))
	if err := ex.Run(src, e.resolveMode(mode)); err != nil {
		return nil, errors.Wrap(err, "transform stream")
	}
	return builder.Finalize(), nil
}

func (e *Engine) resolveMode(mode string) string {
	if mode != "" {
		return mode
	}
	return e.cfg.InitialMode
}
