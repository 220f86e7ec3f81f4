package draft

import (
	"time"

	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/val"
)

// MergeDrafts combines a remote draft and the local draft of the same event.
//
// Every field present on either side is kept; for fields present on both,
// the side whose action was created later wins (the local side wins ties).
// Explicit nulls are kept as values so a deletion survives the merge.
//
// The result takes identity (id, event id, transaction id, action type) from
// local. Its CreatedAt, and its action's CreatedAt, are max(now, latest+1ns)
// so a background CREATE finishing with a later server timestamp can never
// shadow the user's freshly entered values.
func MergeDrafts(remote, local event.Draft, now time.Time) event.Draft {
	older, newer := remote, local
	if remote.Action.CreatedAt.After(local.Action.CreatedAt) {
		older, newer = local, remote
	}

	out := local.Clone()
	out.Action.Declaration = overlay(older.Action.Declaration, newer.Action.Declaration)
	out.Action.Annotation = overlay(older.Action.Annotation, newer.Action.Annotation)

	latest := newer.Action.CreatedAt
	for _, t := range []time.Time{remote.CreatedAt, local.CreatedAt, older.Action.CreatedAt} {
		if t.After(latest) {
			latest = t
		}
	}
	stamp := now
	if !stamp.After(latest) {
		stamp = latest.Add(time.Nanosecond)
	}
	out.CreatedAt = stamp
	out.Action.CreatedAt = stamp
	return out
}

// overlay copies base and replaces every key present in top.
func overlay(base, top val.Object) val.Object {
	if base == nil && top == nil {
		return nil
	}
	out := make(val.Object, len(base)+len(top))
	for k, v := range base {
		out[k] = val.Clone(v)
	}
	for k, v := range top {
		out[k] = val.Clone(v)
	}
	return out
}
