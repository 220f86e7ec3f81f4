package cache

import "fmt"

// Key prefixes. Every document in the store lives under exactly one.
const (
	PrefixEvent       = "event/"
	PrefixOutbox      = "outbox/"
	PrefixFailed      = "failed/"
	PrefixRemoteDraft = "draft/remote/"
	PrefixList        = "list/"
	PrefixIDMap       = "idmap/"

	KeyActiveDraft = "draft/active"
	KeyOutboxSeq   = "meta/seq"
)

// EventKey is the get-by-id cache entry of an event document.
func EventKey(id string) string { return PrefixEvent + id }

// OutboxKey zero-pads seq so key order equals enqueue order.
func OutboxKey(seq int64) string { return fmt.Sprintf("%s%020d", PrefixOutbox, seq) }

// FailedKey holds a permanently failed mutation.
func FailedKey(transactionID string) string { return PrefixFailed + transactionID }

// RemoteDraftKey holds the cached remote draft of an event.
func RemoteDraftKey(eventID string) string { return PrefixRemoteDraft + eventID }

// ListKey holds one cached page of a list or search query.
func ListKey(query string) string { return PrefixList + query }

// IDMapKey records the canonical id issued for a temporary id.
func IDMapKey(tmpID string) string { return PrefixIDMap + tmpID }
