// Package form loads event form configurations and evaluates field
// conditions.
//
// Configurations are written in CUE, one struct per event type under the
// top-level "event" field:
//
//	event: birth: {
//		title:       ["child.firstname", "child.surname"]
//		dateOfEvent: "child.dob"
//		fields: [
//			{id: "child.firstname", search: true},
//			{id: "child.surname", search: true},
//			{id: "child.dob"},
//			{id: "informant.email", conditions: [
//				{type: "SHOW", expr: "form['informant.type'] != 'MOTHER'"},
//			]},
//			{id: "review.comment", kind: "annotation"},
//		]
//	}
//
// Conditions are CEL expressions over two variables: form (the declaration)
// and annotation. A field whose SHOW or ENABLE condition evaluates false is
// stripped from outgoing mutations.
package form
