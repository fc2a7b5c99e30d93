// Package sink implements the durable destinations of flush records.
//
// Markdown appends one human-readable section per flush to
// <dir>/<interaction-id>.md, Records inserts rows through the repo package,
// and Multi fans a record out to several sinks. All of them satisfy
// activity.Sink and are safe for concurrent use.
package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/tbourn/go-edge-state/internal/domain"
)

// ErrUnsafeName is returned when an interaction id cannot be used as a file
// name inside the sink directory.
var ErrUnsafeName = errors.New("sink: unsafe interaction id for file name")

// Markdown writes flush records as markdown files on fs.
type Markdown struct {
	FS  afero.Fs
	Dir string

	mu sync.Mutex
}

// NewMarkdown returns a sink rooted at dir on the OS filesystem.
func NewMarkdown(dir string) *Markdown {
	return &Markdown{FS: afero.NewOsFs(), Dir: dir}
}

// Append writes rec's section, preceded by the file header when the file is
// new, and syncs before returning.
func (m *Markdown) Append(_ context.Context, rec *domain.FlushRecord) error {
	name, err := m.path(rec.InteractionID)
	if err != nil {
		return err
	}

	// One lock per sink keeps the header-once check and the append together.
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.FS.MkdirAll(m.Dir, 0o755); err != nil {
		return fmt.Errorf("sink: create dir: %w", err)
	}
	_, statErr := m.FS.Stat(name)
	fresh := errors.Is(statErr, os.ErrNotExist)

	f, err := m.FS.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("sink: open %s: %w", name, err)
	}
	defer f.Close()

	var b strings.Builder
	if fresh {
		b.WriteString(RenderHeader(rec.InteractionID))
	}
	b.WriteString(RenderSection(rec))

	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("sink: write %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sink: sync %s: %w", name, err)
	}
	return nil
}

func (m *Markdown) path(id string) (string, error) {
	if id == "" || id == "." || strings.ContainsAny(id, `/\:`) || strings.Contains(id, "..") {
		return "", ErrUnsafeName
	}
	return filepath.Join(m.Dir, id+".md"), nil
}

// RenderHeader is written once at the top of an interaction file.
func RenderHeader(interactionID string) string {
	return "# Interaction " + interactionID + "\n\n"
}

// RenderSection formats one flush.
func RenderSection(rec *domain.FlushRecord) string {
	var b strings.Builder
	b.WriteString("## Flush at ")
	b.WriteString(rec.FlushedAt.UTC().Format(time.RFC3339))
	b.WriteString("\n\n### Summary\n")
	b.WriteString(strings.TrimSpace(rec.Summary))
	b.WriteString("\n\n### Events\n")
	if len(rec.Events) == 0 {
		b.WriteString("- (no events)\n")
	}
	for _, e := range rec.Events {
		b.WriteString("- ")
		b.WriteString(e)
		b.WriteString("\n")
	}
	b.WriteString("\n---\n\n")
	return b.String()
}
