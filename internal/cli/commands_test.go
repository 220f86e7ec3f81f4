package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evsync/internal/authz"
	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/outbox"
	"github.com/roach88/evsync/internal/server"
	"github.com/roach88/evsync/internal/val"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// device is a sqlite-backed device configuration pointing at a test server.
type device struct {
	config string
	ledger *server.Ledger
}

func newDevice(t *testing.T, extra string) *device {
	t.Helper()
	ledger := server.NewLedger()
	srv := httptest.NewServer(server.Router(ledger, nil))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := fmt.Sprintf(`store:
  driver: sqlite
  path: %s
remote:
  url: %s
  timeout: 5s
log:
  level: error
%s`, filepath.Join(dir, "evsync.db"), srv.URL, extra)
	path := filepath.Join(dir, "evsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return &device{config: path, ledger: ledger}
}

// run executes one evsync command against the device and returns stdout.
func (d *device) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(append([]string{"-c", d.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// runJSON executes a command with --format json and decodes its data.
func (d *device) runJSON(t *testing.T, data any, args ...string) error {
	t.Helper()
	out, err := d.run(t, append([]string{"--format", "json"}, args...)...)
	if err != nil {
		return err
	}
	resp := struct {
		Status string `json:"status"`
		Data   any    `json:"data"`
	}{Data: data}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	return nil
}

func TestDevice_OfflineRoundTrip(t *testing.T) {
	d := newDevice(t, "")

	var doc event.Document
	require.NoError(t, d.runJSON(t, &doc, "create", "birth"))
	require.NotEmpty(t, doc.ID)
	assert.Equal(t, "birth", doc.Type)

	var entry outbox.Entry
	require.NoError(t, d.runJSON(t, &entry, "act", doc.ID, "declare", "--declaration", `{"child.firstname":"Ada"}`))
	assert.Equal(t, event.ActionDeclare, entry.Action)
	assert.Equal(t, val.String("Ada"), entry.Declaration["child.firstname"])

	var queued []outbox.Entry
	require.NoError(t, d.runJSON(t, &queued, "outbox"))
	require.Len(t, queued, 2)
	assert.Equal(t, event.ActionCreate, queued[0].Action)
	assert.Equal(t, event.ActionDeclare, queued[1].Action)

	out, err := d.run(t, "show", doc.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "status:     CREATED")
	assert.Contains(t, out, "optimistic: DECLARED")
	assert.Contains(t, out, "queued:     DECLARE")
	assert.Contains(t, out, "child.firstname = Ada")
	assert.Equal(t, 0, d.ledger.Len(), "nothing reaches the server before sync")

	var res SyncResult
	require.NoError(t, d.runJSON(t, &res, "sync", "--once"))
	assert.Equal(t, 2, res.Delivered)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 1, d.ledger.Len())

	out, err = d.run(t, "outbox")
	require.NoError(t, err)
	assert.Contains(t, out, "Outbox is empty")

	var shown ShowResult
	require.NoError(t, d.runJSON(t, &shown, "show", doc.ID))
	assert.NotEqual(t, doc.ID, shown.ID, "temporary id resolves to the server id")
	assert.Equal(t, event.StatusDeclared, shown.State.Status)
	assert.False(t, shown.InOutbox)
}

func TestDevice_ActRefusedByGuard(t *testing.T) {
	d := newDevice(t, "")

	var doc event.Document
	require.NoError(t, d.runJSON(t, &doc, "create", "birth"))

	out, err := d.run(t, "--format", "json", "act", doc.ID, "register")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeActionNotAvailable, resp.Error.Code)
}

func TestDevice_ActBadInput(t *testing.T) {
	d := newDevice(t, "")

	_, err := d.run(t, "act", "e1", "teleport")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `unknown action "teleport"`)

	_, err = d.run(t, "act", "e1", "declare", "--declaration", `["not","an","object"]`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--declaration must be a JSON object")
}

func TestDevice_ShowUnknownEvent(t *testing.T) {
	d := newDevice(t, "")

	out, err := d.run(t, "show", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, CodeNotFoundLocally)
}

func TestDevice_SessionScopes(t *testing.T) {
	secret := "s3cret"
	actor := event.Actor{ID: "clerk-1", Role: "CLERK", Location: "office-2"}
	token, err := authz.IssueToken(actor, []string{"record.create"}, []byte(secret), time.Now(), time.Hour)
	require.NoError(t, err)

	d := newDevice(t, fmt.Sprintf("server:\n  secret: %s\n", secret))
	t.Setenv("EVSYNC_REMOTE_TOKEN", token)

	var doc event.Document
	require.NoError(t, d.runJSON(t, &doc, "create", "birth"))
	require.NotEmpty(t, doc.Actions)
	assert.Equal(t, "clerk-1", doc.Actions[0].CreatedBy)

	out, err := d.run(t, "--format", "json", "act", doc.ID, "declare")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, CodeInsufficientScope)
}

func TestDevice_Drafts(t *testing.T) {
	d := newDevice(t, "")

	var doc event.Document
	require.NoError(t, d.runJSON(t, &doc, "create", "birth"))

	out, err := d.run(t, "drafts")
	require.NoError(t, err)
	assert.Contains(t, out, "No drafts")

	var saved event.Draft
	require.NoError(t, d.runJSON(t, &saved, "drafts", "save", doc.ID, "declare", "--declaration", `{"child.firstname":"Ada"}`))
	assert.Equal(t, event.ActionDeclare, saved.Action.Type)
	assert.NotEmpty(t, saved.TransactionID)

	var drafts []event.Draft
	require.NoError(t, d.runJSON(t, &drafts, "drafts"))
	require.Len(t, drafts, 1)
	assert.Equal(t, saved.ID, drafts[0].ID)

	var entry outbox.Entry
	require.NoError(t, d.runJSON(t, &entry, "drafts", "submit"))
	assert.Equal(t, event.ActionDeclare, entry.Action)
	assert.Equal(t, saved.TransactionID, entry.TransactionID)
}

func TestDevice_DismissUnknownFailure(t *testing.T) {
	d := newDevice(t, "")

	out, err := d.run(t, "outbox", "--failed")
	require.NoError(t, err)
	assert.Contains(t, out, "Outbox is empty")

	_, err = d.run(t, "outbox", "--dismiss", "tx-missing")
	require.Error(t, err)
}

func TestProjectCommand(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	doc := event.Document{
		ID:   "e1",
		Type: "birth",
		Actions: []event.Action{
			{Type: event.ActionCreate, ID: "a1", TransactionID: "tx-1", CreatedAt: at, CreatedBy: "u1", Status: event.ActionAccepted},
			{Type: event.ActionDeclare, ID: "a2", TransactionID: "tx-2", CreatedAt: at.Add(time.Minute), CreatedBy: "u1", Status: event.ActionAccepted,
				Declaration: val.Obj(val.P("child.firstname", val.String("Ada")))},
		},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(path, data, 0644))

	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"project", path})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "birth e1")
	assert.Contains(t, buf.String(), "status: DECLARED")
	assert.Contains(t, buf.String(), "child.firstname = Ada")
}

func TestProjectCommandStructuralError(t *testing.T) {
	data, err := json.Marshal(event.Document{ID: "e1", Type: "birth"})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(path, data, 0644))

	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--format", "json", "project", path})
	err = cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), CodeStructural)
}

func TestServeIssueToken(t *testing.T) {
	t.Setenv("EVSYNC_SERVER_SECRET", "s3cret")

	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"serve", "--issue-token", "--subject", "reg-1", "--role", "REGISTRAR", "--scope", "record.declare"})
	require.NoError(t, cmd.Execute())

	claims, err := authz.ParseToken(strings.TrimSpace(buf.String()), []byte("s3cret"))
	require.NoError(t, err)
	assert.Equal(t, event.Actor{ID: "reg-1", Role: "REGISTRAR"}, claims.Actor())
	assert.Equal(t, []string{"record.declare"}, claims.Scope)
}

func TestServeIssueTokenNeedsSecret(t *testing.T) {
	t.Setenv("EVSYNC_SERVER_SECRET", "")

	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"serve", "--issue-token", "--subject", "reg-1"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "requires server.secret")
}
