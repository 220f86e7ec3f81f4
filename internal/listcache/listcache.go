// Package listcache holds cached pages of server list and search results
// and patches event summaries inside them in place.
//
// A page's Total is the server-reported aggregate. Local patches replace,
// rename or drop rows but never change Total, and optimistic local
// creations are not inserted into server pages.
package listcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/roach88/evsync/internal/cache"
	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/store"
)

// ErrNotCached is returned when no page is cached for a query.
var ErrNotCached = errors.New("list page not cached")

// Cache is the list/search projection cache.
type Cache struct {
	cache *cache.Cache
}

// New returns a list cache over c.
func New(c *cache.Cache) *Cache {
	return &Cache{cache: c}
}

// QueryKey builds the cache key suffix of a list query. Parameters are
// encoded in sorted order so equal queries share a page.
func QueryKey(eventType string, params map[string]string) string {
	v := url.Values{}
	for k, p := range params {
		v.Set(k, p)
	}
	if len(v) == 0 {
		return eventType
	}
	return eventType + "?" + v.Encode()
}

// Put stores a page as returned by the server.
func (c *Cache) Put(ctx context.Context, query string, page event.Page) error {
	if page.Results == nil {
		page.Results = []event.Index{}
	}
	return c.cache.Set(ctx, cache.ListKey(query), page)
}

// Get returns the cached page of a query.
func (c *Cache) Get(ctx context.Context, query string) (event.Page, error) {
	var page event.Page
	err := c.cache.Get(ctx, cache.ListKey(query), &page)
	if errors.Is(err, store.ErrNotFound) {
		return event.Page{}, ErrNotCached
	}
	return page, err
}

// Queries returns the cached query keys in key order.
func (c *Cache) Queries(ctx context.Context) ([]string, error) {
	var out []string
	err := c.cache.View(ctx, func(txn *cache.Txn) error {
		items, err := txn.Scan(cache.PrefixList)
		if err != nil {
			return err
		}
		for _, it := range items {
			out = append(out, strings.TrimPrefix(it.Key, cache.PrefixList))
		}
		return nil
	})
	return out, err
}

// Patch replaces idx's row in every cached page.
func (c *Cache) Patch(ctx context.Context, idx event.Index) (int, error) {
	var n int
	err := c.cache.Update(ctx, func(txn *cache.Txn) error {
		var err error
		n, err = PatchTxn(txn, idx)
		return err
	})
	return n, err
}

// PatchTxn replaces the row with idx.ID in every cached page, keeping its
// position. Rows of other events and each page's Total are untouched.
// Returns the number of pages changed.
func PatchTxn(txn *cache.Txn, idx event.Index) (int, error) {
	return rewrite(txn, func(rows []event.Index) ([]event.Index, bool) {
		changed := false
		for i := range rows {
			if rows[i].ID == idx.ID {
				rows[i] = idx
				changed = true
			}
		}
		return rows, changed
	})
}

// ReplaceIDTxn renames rows of tmpID to canonicalID. A page that already
// holds a canonicalID row drops the tmpID row instead, so one logical
// event never appears twice.
func ReplaceIDTxn(txn *cache.Txn, tmpID, canonicalID string) (int, error) {
	return rewrite(txn, func(rows []event.Index) ([]event.Index, bool) {
		hasCanonical := false
		for _, r := range rows {
			if r.ID == canonicalID {
				hasCanonical = true
				break
			}
		}
		changed := false
		out := rows[:0]
		for _, r := range rows {
			if r.ID == tmpID {
				changed = true
				if hasCanonical {
					continue
				}
				r.ID = canonicalID
			}
			out = append(out, r)
		}
		return out, changed
	})
}

// RemoveTxn drops rows of id from every cached page.
func RemoveTxn(txn *cache.Txn, id string) (int, error) {
	return rewrite(txn, func(rows []event.Index) ([]event.Index, bool) {
		changed := false
		out := rows[:0]
		for _, r := range rows {
			if r.ID == id {
				changed = true
				continue
			}
			out = append(out, r)
		}
		return out, changed
	})
}

// rewrite applies fn to the rows of every cached page and writes back the
// pages fn reports as changed. Pages are replaced whole.
func rewrite(txn *cache.Txn, fn func([]event.Index) ([]event.Index, bool)) (int, error) {
	items, err := txn.Scan(cache.PrefixList)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, it := range items {
		var page event.Page
		if err := json.Unmarshal(it.Value, &page); err != nil {
			return n, fmt.Errorf("decode %s: %w", it.Key, err)
		}
		rows, changed := fn(page.Results)
		if !changed {
			continue
		}
		page.Results = rows
		if err := txn.SetJSON(it.Key, page); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
