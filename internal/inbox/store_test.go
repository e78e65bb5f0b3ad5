package inbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackzampolin/qrstitch/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	s, err := NewStore(filepath.Join(root, "inbox.db"), filepath.Join(root, "inbox"), testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDecodeSubmission(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantExt string
		wantErr bool
	}{
		{name: "dotted extension", body: `{"text":"Hello, World!","fileExtension":".txt"}`, wantExt: "txt"},
		{name: "bare extension", body: `{"text":"x","fileExtension":"md"}`, wantExt: "md"},
		{name: "empty text", body: `{"text":"","fileExtension":"txt"}`, wantExt: "txt"},
		{name: "missing extension", body: `{"text":"x"}`, wantErr: true},
		{name: "missing text", body: `{"fileExtension":"txt"}`, wantErr: true},
		{name: "path traversal", body: `{"text":"x","fileExtension":"../etc"}`, wantErr: true},
		{name: "empty extension", body: `{"text":"x","fileExtension":""}`, wantErr: true},
		{name: "text not a string", body: `{"text":5,"fileExtension":"txt"}`, wantErr: true},
		{name: "not json", body: `text=x`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := DecodeSubmission([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSubmission) {
					t.Errorf("DecodeSubmission() error = %v, want ErrInvalidSubmission", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeSubmission() error = %v", err)
			}
			if sub.Ext() != tt.wantExt {
				t.Errorf("Ext() = %q, want %q", sub.Ext(), tt.wantExt)
			}
		})
	}
}

func TestStore_Receive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e, err := s.Receive(ctx, Submission{Text: "Hello, World!", FileExtension: ".txt"})
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if e.Size != 13 || e.FileExtension != "txt" || !strings.HasSuffix(e.Path, e.ID+".txt") {
		t.Errorf("entry = %+v", e)
	}
	if want := "saved 13 bytes as " + e.ID + ".txt"; e.Message() != want {
		t.Errorf("Message() = %q, want %q", e.Message(), want)
	}

	data, err := os.ReadFile(e.Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "Hello, World!" {
		t.Errorf("file content = %q", data)
	}

	got, err := s.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Text != "Hello, World!" || !got.CreatedAt.Equal(e.CreatedAt) {
		t.Errorf("Get() = %+v", got)
	}
}

func TestStore_ReceiveInvalid(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Receive(context.Background(), Submission{Text: "x", FileExtension: "a/b"})
	if !errors.Is(err, ErrInvalidSubmission) {
		t.Errorf("Receive() error = %v", err)
	}
	entries, err := s.List(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("invalid submission was stored: %+v", entries)
	}
}

func TestStore_List(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for _, text := range []string{"one", "two", "three"} {
		e, err := s.Receive(ctx, Submission{Text: text, FileExtension: "txt"})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, e.ID)
	}

	t.Run("newest first", func(t *testing.T) {
		entries, err := s.List(ctx, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 3 {
			t.Fatalf("List() returned %d entries", len(entries))
		}
		for i, e := range entries {
			if want := ids[len(ids)-1-i]; e.ID != want {
				t.Errorf("entries[%d] = %s, want %s", i, e.ID, want)
			}
			if e.Text != "" {
				t.Error("List() should not load text")
			}
		}
	})

	t.Run("limit", func(t *testing.T) {
		entries, err := s.List(ctx, 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 2 || entries[0].ID != ids[2] {
			t.Errorf("List(2) = %+v", entries)
		}
	})
}

func TestStore_GetNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "01ARZ3NDEKTSV4RRFFQ69G5FAV"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestStore_Reopen(t *testing.T) {
	root := t.TempDir()
	dbPath, dir := filepath.Join(root, "inbox.db"), filepath.Join(root, "inbox")

	s, err := NewStore(dbPath, dir, testutil.DiscardLogger())
	if err != nil {
		t.Fatal(err)
	}
	e, err := s.Receive(context.Background(), Submission{Text: "kept", FileExtension: "md"})
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = NewStore(dbPath, dir, testutil.DiscardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Get(context.Background(), e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "kept" {
		t.Errorf("Text = %q", got.Text)
	}
}
