// Package expander resolves a CapabilityStatement's import graph,
// merging every imported statement into one materialized, import-free
// document.
package expander

import (
	"github.com/charmbracelet/log"

	"github.com/Gefyra/capabilityStatement-expander/pkg/expectation"
	"github.com/Gefyra/capabilityStatement-expander/pkg/merge"
	"github.com/Gefyra/capabilityStatement-expander/pkg/pool"
	"github.com/Gefyra/capabilityStatement-expander/pkg/reference"
)

// Collector receives expanded document bodies for artifact-reference
// collection. The closure engine implements it.
type Collector interface {
	Collect(body map[string]any)
}

// Context carries the mutable state of one root's expansion.
//
// Visited is branch-local: every descent works on its own copy so a
// branch cannot revisit its own ancestors while sibling branches stay
// independent. Processed is root-scoped and shared down the whole tree;
// it records which import targets have already been expanded. Current is
// the expectation level of the link that led into the current document.
type Context struct {
	Visited   map[string]bool
	Processed map[string]bool
	Current   expectation.Level
}

// NewContext creates a fresh Context for one root document.
func NewContext() *Context {
	return &Context{
		Visited:   make(map[string]bool),
		Processed: make(map[string]bool),
	}
}

// Resolver expands CapabilityStatement import graphs. One Resolver is
// shared across all roots of a run; the set of capability statements
// reached via import accumulates across roots.
type Resolver struct {
	matcher   *reference.Matcher
	merger    *merge.Engine
	collector Collector
	filter    expectation.Level
	log       *log.Logger

	warnedCycles map[string]bool
	reached      []*pool.Document
	reachedSeen  map[string]bool
}

// New creates a Resolver.
func New(matcher *reference.Matcher, merger *merge.Engine, collector Collector, filter expectation.Level, logger *log.Logger) *Resolver {
	return &Resolver{
		matcher:      matcher,
		merger:       merger,
		collector:    collector,
		filter:       filter,
		log:          logger.WithPrefix("expander"),
		warnedCycles: make(map[string]bool),
		reachedSeen:  make(map[string]bool),
	}
}

// Reached returns every non-root CapabilityStatement that was expanded
// via an import link, across all roots, in first-reached order.
func (r *Resolver) Reached() []*pool.Document {
	return r.reached
}

// frame is one pending document on the explicit expansion stack. Each
// frame owns a private visited set, so sibling branches stay
// independent without native recursion.
type frame struct {
	doc     *pool.Document
	result  map[string]any
	links   []pool.ImportLink
	next    int
	visited map[string]bool
	level   expectation.Level
	parent  *frame
}

func newFrame(doc *pool.Document, visited map[string]bool, level expectation.Level, parent *frame) *frame {
	branch := make(map[string]bool, len(visited)+1)
	for id := range visited {
		branch[id] = true
	}
	branch[doc.ID] = true
	return &frame{
		doc:     doc,
		result:  doc.CopyBody(),
		links:   doc.ImportLinks(),
		visited: branch,
		level:   level,
		parent:  parent,
	}
}

// Expand expands doc and returns the materialized body with import and
// instantiation links removed. The input document is never modified.
//
// The graph is walked with an explicit stack rather than native
// recursion, so import depth is bounded only by memory.
func (r *Resolver) Expand(doc *pool.Document, ctx *Context) map[string]any {
	if ctx.Visited[doc.ID] {
		r.warnCycle(doc.ID)
		return doc.CopyBody()
	}
	ctx.Visited[doc.ID] = true

	stack := []*frame{newFrame(doc, ctx.Visited, ctx.Current, nil)}
	r.log.Info("expanding capability statement", "id", doc.ID)

	for {
		top := stack[len(stack)-1]

		if top.next < len(top.links) {
			link := top.links[top.next]
			top.next++

			// The filter decision comes before the processed-imports
			// check, and a filtered link is not marked processed: the
			// same target may legitimately reappear on another path with
			// a stronger expectation, and must not be suppressed there.
			if !expectation.Allowed(link.Level, r.filter) {
				r.log.Debug("import excluded by expectation filter",
					"target", link.Target, "level", link.Level, "filter", r.filter)
				continue
			}
			if ctx.Processed[link.Target] {
				continue
			}
			ctx.Processed[link.Target] = true

			target, ok := r.matcher.Resolve(link.Target)
			if !ok {
				r.log.Warn("import not found", "target", link.Target)
				continue
			}
			if !target.IsCapability() {
				r.log.Warn("import is not a CapabilityStatement, skipped",
					"target", link.Target, "kind", target.Kind)
				continue
			}

			r.markReached(target)
			if top.visited[target.ID] {
				r.warnCycle(target.ID)
				r.merger.Merge(top.result, target.Body())
				continue
			}
			r.log.Info("expanding capability statement", "id", target.ID)
			r.log.Debug("import resolved", "target", link.Target, "level", link.Level)
			stack = append(stack, newFrame(target, top.visited, link.Level, top))
			continue
		}

		// Frame exhausted: collect, strip, fold into the parent. The
		// filter governs import links only; the root was explicitly
		// requested, so its own declarations always collect.
		if top.parent == nil || expectation.Allowed(top.level, r.filter) {
			r.collector.Collect(top.result)
		} else {
			r.log.Debug("reference collection skipped for filtered subtree",
				"id", top.doc.ID, "level", top.level)
		}
		stripLinks(top.result)

		if top.parent == nil {
			return top.result
		}
		r.merger.Merge(top.parent.result, top.result)
		stack = stack[:len(stack)-1]
	}
}

func (r *Resolver) warnCycle(id string) {
	if r.warnedCycles[id] {
		return
	}
	r.warnedCycles[id] = true
	r.log.Warn("circular import detected", "id", id)
}

func (r *Resolver) markReached(doc *pool.Document) {
	key := doc.URL
	if key == "" {
		key = doc.Ref()
	}
	if r.reachedSeen[key] {
		return
	}
	r.reachedSeen[key] = true
	r.reached = append(r.reached, doc)
}

// stripLinks removes the resolved import and instantiation declarations
// together with their parallel metadata arrays.
func stripLinks(body map[string]any) {
	for _, field := range []string{"imports", "_imports", "instantiates", "_instantiates"} {
		delete(body, field)
	}
}
