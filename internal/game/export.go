package game

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ExportArtifact appends a manifest of a completed session's artifact to a
// text file.
func ExportArtifact(snap Snapshot, layers []ArtifactLayer, filename string) error {
	if snap.Session.Phase != PhaseCompleted {
		return ErrNotCompleted
	}

	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	names := make(map[int]string, len(snap.Roster))
	for _, p := range snap.Roster {
		names[p.JoinOrder] = p.Name
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Drawchain \"%s\" - Session %s\n", snap.Session.Title, snap.Session.Code))
	sb.WriteString(fmt.Sprintf("Topic: %s\n", snap.Session.Topic))
	sb.WriteString(fmt.Sprintf("Completed: %s\n", time.Now().Format("2006-01-02 15:04:05")))
	sb.WriteString(strings.Repeat("=", 50) + "\n")
	for _, l := range layers {
		name := names[l.JoinOrder]
		if name == "" {
			name = fmt.Sprintf("Player %d", l.JoinOrder+1)
		}
		if l.Payload == "" {
			sb.WriteString(fmt.Sprintf("Round %d - %s: (timed out, no contribution)\n", l.Round, name))
		} else {
			sb.WriteString(fmt.Sprintf("Round %d - %s: %d bytes\n", l.Round, name, len(l.Payload)))
		}
	}
	sb.WriteString("\n")

	if _, err := file.WriteString(sb.String()); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}
