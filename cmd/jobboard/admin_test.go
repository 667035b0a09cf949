package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/database"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/docstore"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/jobs"
	"go.uber.org/zap"
)

func newCommandStore(t *testing.T) *docstore.Store {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "cli.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	docs, err := docstore.New(docstore.Config{Database: db, IDProvider: docstore.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("failed to construct document store: %v", err)
	}
	t.Cleanup(func() {
		docs.Wait()
		sqlDB.Close()
	})
	return docs
}

func TestPostJobWritesNormalizedDocument(t *testing.T) {
	docs := newCommandStore(t)
	ctx := context.Background()

	id, err := postJob(ctx, docs, jobInput{id: "dev-1", title: " Remote Dev ", raw: "Remote, full-time, IT", apply: "https://example.com/apply"})
	if err != nil {
		t.Fatalf("unexpected post error: %v", err)
	}
	if id != "dev-1" {
		t.Fatalf("unexpected id %q", id)
	}

	snapshot, err := docs.GetDocument(ctx, jobs.DocumentPath(id))
	if err != nil {
		t.Fatalf("failed to read job: %v", err)
	}
	job := jobs.FromFields(snapshot.ID, snapshot.Fields)
	if job.Title != "Remote Dev" || job.Apply != "https://example.com/apply" || job.Views != 0 {
		t.Fatalf("unexpected job %#v", job)
	}
	if job.CreatedAt == 0 {
		t.Fatalf("expected server-assigned creation time")
	}

	generated, err := postJob(ctx, docs, jobInput{title: "Sales Exec"})
	if err != nil {
		t.Fatalf("unexpected post error: %v", err)
	}
	if generated == "" {
		t.Fatalf("expected generated id")
	}

	if _, err := postJob(ctx, docs, jobInput{}); err == nil {
		t.Fatalf("expected error for empty job")
	}
}

func TestAnnounceSetsAndClears(t *testing.T) {
	docs := newCommandStore(t)
	ctx := context.Background()

	if err := announce(ctx, docs, "  Walk-in drive Friday "); err != nil {
		t.Fatalf("unexpected announce error: %v", err)
	}
	snapshot, err := docs.GetDocument(ctx, "meta/announcement")
	if err != nil {
		t.Fatalf("failed to read announcement: %v", err)
	}
	if snapshot.Fields["text"] != "Walk-in drive Friday" {
		t.Fatalf("unexpected announcement %v", snapshot.Fields["text"])
	}

	if err := announce(ctx, docs, ""); err != nil {
		t.Fatalf("unexpected clear error: %v", err)
	}
	cleared, err := docs.GetDocument(ctx, "meta/announcement")
	if err != nil {
		t.Fatalf("failed to read announcement: %v", err)
	}
	if cleared.Fields["text"] != "" {
		t.Fatalf("expected cleared announcement, got %v", cleared.Fields["text"])
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"serve", "admin-token", "post-job", "announce"} {
		if command, _, err := root.Find([]string{name}); err != nil || command.Name() != name {
			t.Fatalf("expected %s subcommand, got %v (%v)", name, command, err)
		}
	}
}
