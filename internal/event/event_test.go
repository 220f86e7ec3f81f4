package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evsync/internal/val"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testAction(typ ActionType, id string, at time.Duration) Action {
	return Action{
		Type:          typ,
		ID:            id,
		TransactionID: "tx-" + id,
		CreatedAt:     t0.Add(at),
		CreatedBy:     "user-1",
		Status:        ActionAccepted,
	}
}

func TestDocument_Validate(t *testing.T) {
	tests := []struct {
		name    string
		actions []Action
		wantErr error
	}{
		{
			name:    "create only",
			actions: []Action{testAction(ActionCreate, "a1", 0)},
		},
		{
			name: "create then declare",
			actions: []Action{
				testAction(ActionCreate, "a1", 0),
				testAction(ActionDeclare, "a2", time.Minute),
			},
		},
		{
			name:    "empty",
			actions: nil,
			wantErr: ErrNoCreateAction,
		},
		{
			name: "two creates",
			actions: []Action{
				testAction(ActionCreate, "a1", 0),
				testAction(ActionCreate, "a2", time.Minute),
			},
			wantErr: ErrDuplicateCreate,
		},
		{
			name: "declare before create",
			actions: []Action{
				testAction(ActionCreate, "a1", time.Minute),
				testAction(ActionDeclare, "a2", 0),
			},
			wantErr: ErrCreateNotFirst,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Document{ID: "e1", Actions: tt.actions}.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSortActions_StableOnTies(t *testing.T) {
	actions := []Action{
		testAction(ActionDeclare, "b", time.Minute),
		testAction(ActionCreate, "a", 0),
		testAction(ActionValidate, "c", time.Minute),
	}

	sorted := SortActions(actions)

	ids := []string{sorted[0].ID, sorted[1].ID, sorted[2].ID}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, "b", actions[0].ID, "input must not be reordered")
}

func TestIsTemporaryID(t *testing.T) {
	assert.True(t, IsTemporaryID("tmp-0190a3c2"))
	assert.False(t, IsTemporaryID("0190a3c2"))
	assert.False(t, IsTemporaryID(""))
}

func TestParseActionType(t *testing.T) {
	typ, ok := ParseActionType("request-correction")
	require.True(t, ok)
	assert.Equal(t, ActionRequestCorrection, typ)

	_, ok = ParseActionType("publish")
	assert.False(t, ok)
}

func TestDocument_JSONWireNames(t *testing.T) {
	doc := Document{
		ID:            "e1",
		TransactionID: "tx-1",
		Type:          "birth",
		CreatedAt:     t0,
		UpdatedAt:     t0,
		Actions: []Action{{
			Type:          ActionDeclare,
			ID:            "a1",
			TransactionID: "tx-1",
			CreatedAt:     t0,
			CreatedBy:     "user-1",
			Status:        ActionAccepted,
			Declaration:   val.Obj(val.P("child.name", val.String("Ana")), val.P("child.dob", val.Null{})),
		}},
	}

	b, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"transactionId":"tx-1"`)
	assert.Contains(t, string(b), `"declaration":{"child.dob":null,"child.name":"Ana"}`)

	var back Document
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, val.Null{}, back.Actions[0].Declaration["child.dob"])
	assert.True(t, back.Actions[0].CreatedAt.Equal(t0))
}

func TestDocument_CloneIsDeep(t *testing.T) {
	doc := Document{ID: "e1", Actions: []Action{{
		ID:          "a1",
		Declaration: val.Object{"x": val.Object{"y": val.Int(1)}},
	}}}

	c := doc.Clone()
	c.Actions[0].Declaration["x"].(val.Object)["y"] = val.Int(2)
	c.Actions = append(c.Actions, Action{ID: "a2"})

	assert.Equal(t, val.Int(1), doc.Actions[0].Declaration["x"].(val.Object)["y"])
	assert.Len(t, doc.Actions, 1)
}
