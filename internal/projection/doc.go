// Package projection folds an event's action log into its current state.
//
// Fold is pure: only Accepted actions participate, in increasing CreatedAt
// order with ties broken by insertion order. Declarations and annotations
// accumulate through val.DeepMerge, so an explicit null deletes a prior
// value and an absent key leaves it alone.
//
// FoldWithDraft is the preview path. It returns a Preview, a separate type
// from State, so an overlay result cannot be written back as canonical
// state.
package projection
