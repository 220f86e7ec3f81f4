// Package val provides the value model for declaration and annotation payloads.
//
// Form data is a tree of constrained JSON values. The model is deliberately
// small so that projections are deterministic:
//   - NO float types (decimal inputs travel as strings)
//   - Null is an explicit value, not a Go nil; in a patch it deletes the key
//   - Object keys are always emitted in canonical order
//
// Every other internal package imports val; val imports nothing internal.
package val
