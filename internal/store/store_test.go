package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	var name string
	err = s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='kv'").Scan(&name)
	if err != nil {
		t.Errorf("table kv not found after idempotent opens: %v", err)
	}
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	err = s1.Update(ctx, func(txn Txn) error {
		return txn.Set("outbox/00000000000000000001", []byte(`{"transactionId":"tx-1"}`))
	})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	var got []byte
	err = s2.View(ctx, func(txn Txn) error {
		var err error
		got, err = txn.Get("outbox/00000000000000000001")
		return err
	})
	if err != nil {
		t.Fatalf("View() failed: %v", err)
	}
	if string(got) != `{"transactionId":"tx-1"}` {
		t.Errorf("got %q after reopen", got)
	}
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
		{"user_version", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.verifyPragma(tt.name, tt.expected); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestMigration_SeqIndex(t *testing.T) {
	s := createTestStore(t)

	var name string
	err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_kv_seq'").Scan(&name)
	if err != nil {
		t.Errorf("idx_kv_seq not found: %v", err)
	}
}

func TestSet_AdvancesSeq(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	for _, k := range []string{"a", "b", "a"} {
		err := s.Update(ctx, func(txn Txn) error { return txn.Set(k, []byte(k)) })
		if err != nil {
			t.Fatalf("Set(%s) failed: %v", k, err)
		}
	}

	var seqA, seqB int64
	if err := s.db.QueryRow("SELECT seq FROM kv WHERE key = 'a'").Scan(&seqA); err != nil {
		t.Fatal(err)
	}
	if err := s.db.QueryRow("SELECT seq FROM kv WHERE key = 'b'").Scan(&seqB); err != nil {
		t.Fatal(err)
	}
	if seqA <= seqB {
		t.Errorf("rewritten key should carry the latest seq: a=%d b=%d", seqA, seqB)
	}
}
