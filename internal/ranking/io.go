package ranking

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	apperrors "github.com/MochiXu/hybrid-search-ranx/internal/pkg/errors"
	"github.com/MochiXu/hybrid-search-ranx/internal/pkg/hash"
)

// LoadQrels decodes a judgment set from its JSON interchange form.
func LoadQrels(r io.Reader) (Qrels, error) {
	var q Qrels
	if err := json.NewDecoder(r).Decode(&q); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidRanking, "decoding qrels", err)
	}
	if q == nil {
		q = Qrels{}
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}

// LoadRun decodes a run from its JSON interchange form. The name travels
// out of band.
func LoadRun(r io.Reader, name string) (*Run, error) {
	var scores map[string]map[string]float64
	if err := json.NewDecoder(r).Decode(&scores); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidRanking, fmt.Sprintf("decoding run %s", name), err)
	}
	run := NewRun(name, scores)
	if err := run.Validate(); err != nil {
		return nil, err
	}
	return run, nil
}

// LoadQrelsFile reads a judgment set from path.
func LoadQrelsFile(path string) (Qrels, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening qrels: %w", err)
	}
	defer f.Close()
	return LoadQrels(f)
}

// LoadRunFile reads a run from path.
func LoadRunFile(path, name string) (*Run, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening run %s: %w", name, err)
	}
	defer f.Close()
	return LoadRun(f, name)
}

// WriteJSON encodes the run scores (without the name).
func (r *Run) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r.Scores)
}

// WriteFile writes the run to path.
func (r *Run) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := r.WriteJSON(f); err != nil {
		f.Close()
		return fmt.Errorf("writing run %s: %w", r.Name, err)
	}
	return f.Close()
}

// Digest is a content hash of the run scores. Map keys are encoded in
// sorted order so equal runs share a digest.
func (r *Run) Digest() string {
	data, _ := json.Marshal(r.Scores)
	return hash.SHA256Short(data, 32)
}

// Digest is a content hash of the judgment set.
func (q Qrels) Digest() string {
	data, _ := json.Marshal(q)
	return hash.SHA256Short(data, 32)
}
