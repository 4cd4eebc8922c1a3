// Package exportimport implements the newline-delimited-JSON snapshot
// format: one element or dependency per line, depth-ordered apply, with
// dry-run and conflict-strategy controlled import.
package exportimport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/opsloom/opsloom/internal/idgen"
	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/storage"
	"github.com/opsloom/opsloom/internal/types"
)

// ConflictStrategy controls how Import treats an id already present in
// the target store.
type ConflictStrategy string

const (
	ConflictSkip      ConflictStrategy = "skip"
	ConflictOverwrite ConflictStrategy = "overwrite"
)

// depLine is the on-wire shape of a dependency record: a line carrying
// blockedId and blockerId instead of id and type. Kept as its own flat
// struct, distinct from types.Element, so encoding/json never has to
// resolve a promoted-field collision between the two shapes.
type depLine struct {
	BlockedID string               `json:"blockedId"`
	BlockerID string               `json:"blockerId"`
	DepType   types.DependencyType `json:"depType"`
	CreatedBy string               `json:"createdBy,omitempty"`
	Gate      *types.GateMetadata  `json:"gate,omitempty"`
}

// Export writes every non-tombstoned element and every dependency edge
// to w as NDJSON, elements first (depth-ascending, so a streaming
// importer sees parents before children) then dependencies.
func Export(ctx context.Context, db storage.Storage, w io.Writer) error {
	const op = "exportimport.export"
	els, err := db.ListElements(ctx, types.ElementFilter{IncludeDeleted: false})
	if err != nil {
		return opserr.Wrap(op, opserr.Storage, err, "list elements")
	}
	sortByDepth(els)

	enc := json.NewEncoder(w)
	for _, el := range els {
		if err := enc.Encode(el); err != nil {
			return opserr.Wrap(op, opserr.Storage, err, "encode element")
		}
	}

	deps, err := db.GetAllDependencyRecords(ctx)
	if err != nil {
		return opserr.Wrap(op, opserr.Storage, err, "list dependencies")
	}
	for _, d := range deps {
		dl := depLine{BlockedID: d.Blocked, BlockerID: d.Blocker, DepType: d.Type, CreatedBy: d.CreatedBy, Gate: d.Gate}
		if err := enc.Encode(&dl); err != nil {
			return opserr.Wrap(op, opserr.Storage, err, "encode dependency")
		}
	}
	return nil
}

// sortByDepth orders elements shallow-to-deep by hierarchical id depth,
// ties broken by id, so parents are always applied before their
// hierarchical children.
func sortByDepth(els []*types.Element) {
	for i := 1; i < len(els); i++ {
		for j := i; j > 0; j-- {
			a, b := els[j-1], els[j]
			da, db := idgen.Depth(a.ID), idgen.Depth(b.ID)
			if da < db || (da == db && a.ID <= b.ID) {
				break
			}
			els[j-1], els[j] = els[j], els[j-1]
		}
	}
}

// ImportOptions controls Import's behaviour.
type ImportOptions struct {
	DryRun           bool
	ConflictStrategy ConflictStrategy
	Actor            string
}

// Conflict records an id that already existed in the target store at
// import time.
type Conflict struct {
	ID       string
	Strategy ConflictStrategy
	Resolved bool // true if Strategy resolved it (overwrite); false if skipped
}

// Result is the outcome of one Import call.
type Result struct {
	ElementsImported     int
	DependenciesImported int
	Conflicts            []Conflict
	Errors               []string
}

// Import reads NDJSON from r and applies it to db. Lines with id+type
// are elements; lines with blockedId+blockerId are dependencies.
// Elements are buffered and depth-sorted before being applied so
// hierarchical children always follow their parents regardless of
// input order; dependencies are applied after all elements.
func Import(ctx context.Context, db storage.Storage, r io.Reader, opts ImportOptions) (*Result, error) {
	const op = "exportimport.import"
	if opts.ConflictStrategy == "" {
		opts.ConflictStrategy = ConflictSkip
	}
	res := &Result{}

	var elements []*types.Element
	var deps []*depLine

	// probe carries just enough of both shapes to tell them apart
	// (element lines have id+type, dependency lines have
	// blockedId+blockerId) without committing to a decode target.
	type probe struct {
		ID        string `json:"id"`
		Type      string `json:"type"`
		BlockedID string `json:"blockedId"`
		BlockerID string `json:"blockerId"`
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		raw := make([]byte, len(sc.Bytes()))
		copy(raw, sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var p probe
		if err := json.Unmarshal(raw, &p); err != nil {
			res.Errors = append(res.Errors, "decode: "+err.Error())
			continue
		}
		switch {
		case p.BlockedID != "" && p.BlockerID != "":
			var dl depLine
			if err := json.Unmarshal(raw, &dl); err != nil {
				res.Errors = append(res.Errors, "decode dependency: "+err.Error())
				continue
			}
			deps = append(deps, &dl)
		case p.ID != "" && p.Type != "":
			var el types.Element
			if err := json.Unmarshal(raw, &el); err != nil {
				res.Errors = append(res.Errors, "decode element: "+err.Error())
				continue
			}
			elements = append(elements, &el)
		default:
			res.Errors = append(res.Errors, "line is neither an element nor a dependency")
		}
	}
	if err := sc.Err(); err != nil {
		return res, opserr.Wrap(op, opserr.Validation, err, "scan input")
	}

	sortByDepth(elements)

	for _, el := range elements {
		existing, err := db.GetElement(ctx, el.ID)
		exists := err == nil && existing != nil
		if exists {
			res.Conflicts = append(res.Conflicts, Conflict{ID: el.ID, Strategy: opts.ConflictStrategy, Resolved: opts.ConflictStrategy == ConflictOverwrite})
			if opts.ConflictStrategy == ConflictSkip {
				continue
			}
		}
		if opts.DryRun {
			res.ElementsImported++
			continue
		}
		if exists {
			if err := db.HardDeleteElement(ctx, el.ID); err != nil {
				res.Errors = append(res.Errors, "overwrite "+el.ID+": "+err.Error())
				continue
			}
		}
		if err := db.CreateElement(ctx, el, firstNonEmpty(el.CreatedBy, opts.Actor)); err != nil {
			res.Errors = append(res.Errors, "create "+el.ID+": "+err.Error())
			continue
		}
		res.ElementsImported++
	}

	for _, d := range deps {
		if opts.DryRun {
			res.DependenciesImported++
			continue
		}
		dep := &types.Dependency{Blocked: d.BlockedID, Blocker: d.BlockerID, Type: d.DepType, CreatedBy: d.CreatedBy, Gate: d.Gate}
		if err := db.AddDependency(ctx, dep); err != nil {
			if opserr.IsConflict(err) {
				continue // duplicate dependency triple: not an import error, just a no-op
			}
			res.Errors = append(res.Errors, "dependency "+d.BlockedID+"<-"+d.BlockerID+": "+err.Error())
			continue
		}
		res.DependenciesImported++
	}

	return res, nil
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
