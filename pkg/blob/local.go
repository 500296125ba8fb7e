// Package blob stores audio artifacts on the local filesystem. Sources are
// read relative to the store root; results are written under results/ and
// referenced by the request record. A split result produces one artifact
// per segment plus a JSON manifest, and the manifest is what the request's
// result_ref names.
package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/waveq/waveq-engine/pkg/audio"
)

const resultsDir = "results"

// Manifest describes a multi-part result.
type Manifest struct {
	RequestID string   `json:"request_id"`
	Format    string   `json:"format"`
	Quality   string   `json:"quality"`
	Parts     []string `json:"parts"`
}

// Local is a filesystem-backed artifact store. It satisfies
// audio.SourceReader so executors can pull additional inputs (merge) through
// the same root.
type Local struct {
	root string
	log  *zap.Logger
}

func NewLocal(root string, log *zap.Logger) (*Local, error) {
	if err := os.MkdirAll(filepath.Join(root, resultsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Local{root: root, log: log}, nil
}

// Root returns the store's base directory.
func (l *Local) Root() string { return l.root }

// ReadSource loads one audio input by reference.
func (l *Local) ReadSource(ctx context.Context, ref string) (*audio.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := l.resolve(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source %s: %w", ref, err)
	}
	defer f.Close()
	return decodeWAV(f)
}

// PutSource stores a buffer under the given reference, creating parent
// directories as needed. The CLI and tests use this to stage inputs.
func (l *Local) PutSource(ctx context.Context, ref string, buf *audio.Buffer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := l.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return l.writeBuffer(path, buf)
}

// WriteResult persists a pipeline's final buffer and returns the reference
// to record on the request. Multi-part buffers become one artifact per part
// plus a manifest; the manifest reference is returned.
func (l *Local) WriteResult(ctx context.Context, requestID string, buf *audio.Buffer) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ext := extFor(buf.Format)
	if len(buf.Parts) == 0 {
		ref := filepath.ToSlash(filepath.Join(resultsDir, fmt.Sprintf("%s-%s.%s", requestID, uuid.NewString()[:8], ext)))
		path, _ := l.resolve(ref)
		if err := l.writeBuffer(path, buf); err != nil {
			return "", err
		}
		l.log.Debug("result written", zap.String("request_id", requestID), zap.String("ref", ref))
		return ref, nil
	}

	manifest := Manifest{
		RequestID: requestID,
		Format:    buf.Format,
		Quality:   buf.Quality,
	}
	for i, part := range buf.Parts {
		ref := filepath.ToSlash(filepath.Join(resultsDir, fmt.Sprintf("%s-part-%03d.%s", requestID, i, ext)))
		path, _ := l.resolve(ref)
		if err := l.writeBuffer(path, part); err != nil {
			return "", err
		}
		manifest.Parts = append(manifest.Parts, ref)
	}

	ref := filepath.ToSlash(filepath.Join(resultsDir, requestID+".manifest.json"))
	path, _ := l.resolve(ref)
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	l.log.Debug("multi-part result written",
		zap.String("request_id", requestID),
		zap.Int("parts", len(manifest.Parts)))
	return ref, nil
}

// Delete removes a result artifact. Deleting a manifest removes its parts
// as well. Missing files are ignored so releases are idempotent.
func (l *Local) Delete(ctx context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := l.resolve(ref)
	if err != nil {
		return err
	}

	if strings.HasSuffix(ref, ".manifest.json") {
		data, err := os.ReadFile(path)
		if err == nil {
			var m Manifest
			if json.Unmarshal(data, &m) == nil {
				for _, part := range m.Parts {
					if p, err := l.resolve(part); err == nil {
						os.Remove(p)
					}
				}
			}
		}
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete artifact %s: %w", ref, err)
	}
	return nil
}

func (l *Local) writeBuffer(path string, buf *audio.Buffer) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	if err := encodeWAV(f, buf); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// resolve maps a reference to an absolute path and rejects escapes from the
// store root.
func (l *Local) resolve(ref string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(ref))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid artifact reference %q", ref)
	}
	return filepath.Join(l.root, clean), nil
}

// Artifacts are PCM regardless of the tagged delivery format; the extension
// follows the tag so downstream tooling sees the requested container name.
func extFor(format string) string {
	switch format {
	case "":
		return "wav"
	default:
		return format
	}
}
