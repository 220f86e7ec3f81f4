package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evsync/internal/authz"
	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/remote"
	"github.com/roach88/evsync/internal/val"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var secret = []byte("test-secret")

func newTestServer(t *testing.T, l *Ledger) (*httptest.Server, *remote.HTTPClient) {
	t.Helper()
	srv := httptest.NewServer(Router(l, secret))
	t.Cleanup(srv.Close)

	token, err := authz.IssueToken(clerk, []string{"record.*"}, secret, time.Now(), time.Hour)
	require.NoError(t, err)
	return srv, remote.NewHTTPClient(srv.URL, remote.WithToken(token), remote.WithTimeout(5*time.Second))
}

func TestRouter_RoundTrip(t *testing.T) {
	l := newTestLedger(t)
	_, client := newTestServer(t, l)
	ctx := context.Background()

	doc, err := client.CreateEvent(ctx, remote.CreateRequest{TransactionID: "tx-1", Type: "birth"})
	require.NoError(t, err)
	assert.Equal(t, "user-1", doc.Actions[0].CreatedBy, "actor comes from the token")

	doc, err = client.Act(ctx, remote.ActionRequest{
		EventID:       doc.ID,
		EventType:     "birth",
		TransactionID: "tx-2",
		Action:        event.ActionDeclare,
		Declaration:   val.Obj(val.P("child.firstname", val.String("Ada")), val.P("child.note", val.Null{})),
	})
	require.NoError(t, err)
	require.Len(t, doc.Actions, 2)
	assert.Equal(t, val.Null{}, doc.Actions[1].Declaration["child.note"])

	got, err := client.GetEvent(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)

	page, err := client.Search(ctx, remote.SearchRequest{EventType: "birth", Query: map[string]string{"child.firstname": "ada"}})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	_, err = client.CreateDraft(ctx, event.Draft{EventID: doc.ID, TransactionID: "tx-d", Action: event.DraftAction{Type: event.ActionValidate}})
	require.NoError(t, err)
	drafts, err := client.ListDrafts(ctx)
	require.NoError(t, err)
	assert.Len(t, drafts, 1)
}

func TestRouter_StatusErrors(t *testing.T) {
	l := newTestLedger(t)
	_, client := newTestServer(t, l)
	ctx := context.Background()

	_, err := client.GetEvent(ctx, "missing")
	var se *remote.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Contains(t, se.Message, "missing")

	doc, err := client.CreateEvent(ctx, remote.CreateRequest{TransactionID: "tx-1", Type: "birth"})
	require.NoError(t, err)
	_, err = client.Act(ctx, remote.ActionRequest{EventID: doc.ID, TransactionID: "tx-2", Action: event.ActionValidate})
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Contains(t, se.Message, "ACTION_NOT_AVAILABLE")
}

func TestRouter_RequiresToken(t *testing.T) {
	l := newTestLedger(t)
	srv, _ := newTestServer(t, l)

	_, err := remote.NewHTTPClient(srv.URL).GetEvent(context.Background(), "x")
	var se *remote.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.False(t, se.Permanent(), "auth failures are retried once the session is renewed")

	_, err = remote.NewHTTPClient(srv.URL, remote.WithToken("garbage")).GetEvent(context.Background(), "x")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
}

func TestRouter_UnknownActionRoute(t *testing.T) {
	l := newTestLedger(t)
	srv := httptest.NewServer(Router(l, nil))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/events/e1/teleport", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_BindingRejectsMissingFields(t *testing.T) {
	l := newTestLedger(t)
	srv := httptest.NewServer(Router(l, nil))
	defer srv.Close()

	tests := []struct {
		name string
		path string
		body string
		want string
	}{
		{"create without transaction", "/events", `{"type":"birth"}`, "TransactionID is required"},
		{"create without type", "/events", `{"transactionId":"tx-1"}`, "Type is required"},
		{"act without transaction", "/events/e1/declare", `{"type":"birth"}`, "TransactionID is required"},
		{"draft without event", "/drafts", `{"transactionId":"tx-d"}`, "EventID is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+tt.path, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var body struct {
				Error string `json:"error"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.want, body.Error)
		})
	}
	assert.Equal(t, 0, l.Len())
}
