package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dipeo/engine/internal/domain"
	"github.com/dipeo/engine/internal/format"
	"github.com/dipeo/engine/internal/ports"
)

// diagramFormat is one of the three file formats internal/format codecs
// support, keyed by the file extension a diagram is stored under.
type diagramFormat struct {
	ext    string
	encode func(domain.DomainDiagram) ([]byte, error)
	decode func([]byte) (domain.DomainDiagram, error)
}

var diagramFormats = []diagramFormat{
	{ext: ".native.json", encode: format.EncodeNative, decode: format.DecodeNative},
	{ext: ".light.yaml", encode: format.EncodeLight, decode: format.DecodeLight},
	{ext: ".readable.yaml", encode: format.EncodeReadable, decode: format.DecodeReadable},
}

// FileDiagramStore implements ports.DiagramStoragePort over a directory of
// diagram files, one of the three internal/format encodings per file,
// selected by filename suffix. Grounded on the teacher's file-oriented
// storage conventions (internal/infrastructure/storage), generalized from a
// single workflow-spec format to the engine's three interchangeable
// diagram formats.
type FileDiagramStore struct {
	dir string
}

// NewFileDiagramStore roots the store at dir, which must already exist.
func NewFileDiagramStore(dir string) *FileDiagramStore {
	return &FileDiagramStore{dir: dir}
}

func (s *FileDiagramStore) pathFor(id string, ext string) string {
	return filepath.Join(s.dir, id+ext)
}

// Load reads id's diagram file, trying each known format extension in turn.
func (s *FileDiagramStore) Load(ctx context.Context, id string) (domain.DomainDiagram, error) {
	for _, f := range diagramFormats {
		path := s.pathFor(id, f.ext)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return domain.DomainDiagram{}, fmt.Errorf("reading diagram %q: %w", id, err)
		}
		return f.decode(data)
	}
	return domain.DomainDiagram{}, fmt.Errorf("diagram %q not found under %s", id, s.dir)
}

// Save encodes d as Native JSON and writes it to id's file, replacing any
// existing format's file for the same id so a diagram has exactly one
// on-disk representation at a time.
func (s *FileDiagramStore) Save(ctx context.Context, id string, d domain.DomainDiagram) error {
	for _, f := range diagramFormats {
		_ = os.Remove(s.pathFor(id, f.ext))
	}
	data, err := format.EncodeNative(d)
	if err != nil {
		return fmt.Errorf("encoding diagram %q: %w", id, err)
	}
	if err := os.WriteFile(s.pathFor(id, diagramFormats[0].ext), data, 0o644); err != nil {
		return fmt.Errorf("writing diagram %q: %w", id, err)
	}
	return nil
}

// List enumerates every diagram file under the store's directory.
func (s *FileDiagramStore) List(ctx context.Context) ([]ports.DiagramFileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing diagrams under %s: %w", s.dir, err)
	}

	var out []ports.DiagramFileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		for _, f := range diagramFormats {
			if !strings.HasSuffix(name, f.ext) {
				continue
			}
			id := strings.TrimSuffix(name, f.ext)
			info, err := entry.Info()
			modified := ""
			if err == nil {
				modified = info.ModTime().UTC().Format(time.RFC3339)
			}
			out = append(out, ports.DiagramFileInfo{ID: id, Name: id, Format: strings.TrimPrefix(f.ext, "."), Modified: modified})
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete removes id's diagram file, under whichever format it's stored as.
func (s *FileDiagramStore) Delete(ctx context.Context, id string) error {
	var removed bool
	for _, f := range diagramFormats {
		path := s.pathFor(id, f.ext)
		if err := os.Remove(path); err == nil {
			removed = true
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("deleting diagram %q: %w", id, err)
		}
	}
	if !removed {
		return fmt.Errorf("diagram %q not found under %s", id, s.dir)
	}
	return nil
}
