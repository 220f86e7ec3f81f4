// Package event defines the civil-registration event model shared by every
// layer of the sync engine: actions, event documents, drafts and the derived
// list index.
//
// An EventDocument owns its actions exclusively. Actions are appended, never
// rewritten, and exactly one CREATE exists per document, first in creation
// order. Wire names are camelCase to match the remote action API.
package event
