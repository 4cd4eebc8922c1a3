package store

import (
	"context"

	"github.com/opsloom/opsloom/internal/types"
)

// Hydrated pairs an element with the resolved content of every *Ref
// field it carries, replacing the reference with the referenced
// document's content. The source element is left untouched; Hydrated is
// an additive read-side view, not a mutation of stored data.
type Hydrated struct {
	Element     *types.Element
	Content     map[string]string // ref id -> document content
	Attachments map[string]string // attachment ref id -> document content
}

// refsOf returns every document id referenced by el's *Ref fields.
func refsOf(el *types.Element) []string {
	var refs []string
	switch el.Type {
	case types.KindTask:
		if el.Task != nil && el.Task.DescriptionRef != "" {
			refs = append(refs, el.Task.DescriptionRef)
		}
	case types.KindMessage:
		if el.Message != nil {
			if el.Message.ContentRef != "" {
				refs = append(refs, el.Message.ContentRef)
			}
			refs = append(refs, el.Message.Attachments...)
		}
	case types.KindLibrary:
		if el.Library != nil && el.Library.DescriptionRef != "" {
			refs = append(refs, el.Library.DescriptionRef)
		}
	}
	return refs
}

// Hydrate resolves every *Ref on el in a single batch lookup.
func (s *Store) Hydrate(ctx context.Context, el *types.Element) (*Hydrated, error) {
	out, err := s.HydrateBatch(ctx, []*types.Element{el})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// HydrateBatch resolves every *Ref across all of els in one query,
// regardless of how many elements or refs are involved.
func (s *Store) HydrateBatch(ctx context.Context, els []*types.Element) ([]*Hydrated, error) {
	var allRefs []string
	seen := map[string]bool{}
	for _, el := range els {
		for _, r := range refsOf(el) {
			if !seen[r] {
				seen[r] = true
				allRefs = append(allRefs, r)
			}
		}
	}

	docs, err := s.db.GetElementsByIDs(ctx, allRefs)
	if err != nil {
		return nil, err
	}

	out := make([]*Hydrated, len(els))
	for i, el := range els {
		h := &Hydrated{Element: el, Content: map[string]string{}, Attachments: map[string]string{}}
		for _, r := range refsOf(el) {
			if doc, ok := docs[r]; ok && doc.Document != nil {
				h.Content[r] = doc.Document.Content
			}
		}
		if el.Type == types.KindMessage && el.Message != nil {
			for _, a := range el.Message.Attachments {
				if doc, ok := docs[a]; ok && doc.Document != nil {
					h.Attachments[a] = doc.Document.Content
				}
			}
		}
		out[i] = h
	}
	return out, nil
}
