package game

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestExportResult(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "nested", "results.txt")
	res := Result{
		Number: 7,
		Pack:   "Default",
		Host:   alice,
		Standings: []Standing{
			{UserID: bob.ID, Name: "Bob", Score: 2200},
			{UserID: alice.ID, Name: "Alice", Score: 1000},
		},
		Rounds: []RoundRecord{
			{Number: 1, Multiplier: 1, Prompts: []string{"Why is the sky `______`?"}},
		},
		StartedAt: time.Now().Add(-time.Minute),
		EndedAt:   time.Now(),
	}

	if err := ExportResult(res, filename); err != nil {
		t.Fatalf("should be able to export: %v", err)
	}
	if err := ExportResult(res, filename); err != nil {
		t.Fatalf("should be able to append: %v", err)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	content := string(data)

	// Verify both games were written
	if n := strings.Count(content, "Quipdash Game Results - Game 7"); n != 2 {
		t.Fatalf("expected 2 game headers, got %d", n)
	}
	if !strings.Contains(content, "1. Bob: 2200 points") {
		t.Fatalf("expected Bob on top, got:\n%s", content)
	}
	if !strings.Contains(content, "Why is the sky `______`?") {
		t.Fatal("prompts should be listed")
	}
	if !strings.Contains(content, "Host: Alice") {
		t.Fatal("host should be listed")
	}
}
