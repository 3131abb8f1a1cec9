package game

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExportResult appends a finished game to a plain text file.
func ExportResult(r Result, filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	fileExists := false
	if info, err := os.Stat(filename); err == nil && info.Size() > 0 {
		fileExists = true
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var sb strings.Builder
	if fileExists {
		sb.WriteString("\n\n") // Add spacing between games
	}
	fmt.Fprintf(&sb, "Quipdash Game Results - Game %d\n", r.Number)
	fmt.Fprintf(&sb, "Pack: %s\n", r.Pack)
	fmt.Fprintf(&sb, "Host: %s\n", r.Host.Name)
	fmt.Fprintf(&sb, "Started: %s\n", r.StartedAt.Local().Format("2006-01-02 15:04:05"))
	sb.WriteString(strings.Repeat("=", 50) + "\n\n")

	sb.WriteString("Players:\n")
	for _, s := range r.Standings {
		fmt.Fprintf(&sb, "- %s\n", s.Name)
	}
	sb.WriteString("\n")

	for _, round := range r.Rounds {
		fmt.Fprintf(&sb, "Round %d (x%d)\n", round.Number, round.Multiplier)
		sb.WriteString(strings.Repeat("-", 40) + "\n")
		for _, prompt := range round.Prompts {
			fmt.Fprintf(&sb, "- \"%s\"\n", prompt)
		}
		sb.WriteString("\n")
	}

	// Standings are already sorted by score (descending)
	sb.WriteString("Final scores:\n")
	for i, s := range r.Standings {
		fmt.Fprintf(&sb, "%d. %s: %d points\n", i+1, s.Name, s.Score)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Game ended at %s\n", r.EndedAt.Local().Format("2006-01-02 15:04:05"))
	sb.WriteString(strings.Repeat("=", 50) + "\n")

	if _, err := file.WriteString(sb.String()); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}
