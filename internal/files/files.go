// Package files defines the file cache collaborator. Documents and index
// rows may reference uploaded files; a Cacher pre-fetches them so the
// event can be viewed offline.
package files

import (
	"context"
	"slices"

	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/val"
)

// Cacher stores every file a document or index row references.
type Cacher interface {
	CacheDocument(ctx context.Context, doc event.Document) error
	CacheIndex(ctx context.Context, idx event.Index) error
}

// Nop caches nothing.
type Nop struct{}

func (Nop) CacheDocument(context.Context, event.Document) error { return nil }
func (Nop) CacheIndex(context.Context, event.Index) error       { return nil }

// Refs returns the sorted, de-duplicated paths of file values in obj.
// A file value is an object {"type": "file", "path": "..."} at any depth.
func Refs(obj val.Object) []string {
	seen := make(map[string]bool)
	collect(obj, seen)
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// DocumentRefs returns the file paths referenced by any action of doc.
func DocumentRefs(doc event.Document) []string {
	seen := make(map[string]bool)
	for _, a := range doc.Actions {
		collect(a.Declaration, seen)
		collect(a.Annotation, seen)
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

func collect(v val.Value, seen map[string]bool) {
	switch v := v.(type) {
	case val.Object:
		if t, ok := v["type"].(val.String); ok && t == "file" {
			if p, ok := v["path"].(val.String); ok && p != "" {
				seen[string(p)] = true
				return
			}
		}
		for _, child := range v {
			collect(child, seen)
		}
	case val.Array:
		for _, child := range v {
			collect(child, seen)
		}
	}
}
