// Package filestore is an asset database on the local filesystem. Each asset
// is written as <root>/<target path>.asset.json with a YAML manifest
// sidecar. Writes are staged per transaction and moved into place on
// Commit.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/udkimport/internal/importer/materialize"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	assetSuffix    = ".asset.json"
	manifestSuffix = ".asset.yaml"
	stagingPrefix  = ".staging-"
)

// ErrAssetNotFound is returned when no asset exists at a target path.
var ErrAssetNotFound = errors.New("asset not found")

// ErrTxDone is returned by operations on a finished transaction.
var ErrTxDone = errors.New("transaction already finished")

// Manifest is the YAML sidecar describing one asset.
type Manifest struct {
	Path         string           `yaml:"path"`
	Kind         materialize.Kind `yaml:"kind"`
	Fingerprint  string           `yaml:"fingerprint"`
	Dependencies []string         `yaml:"dependencies,omitempty"`
	PayloadBytes int              `yaml:"payload_bytes"`
	WrittenAt    time.Time        `yaml:"written_at"`
}

// document is the .asset.json body.
type document struct {
	Path         string              `json:"path"`
	Kind         materialize.Kind    `json:"kind"`
	Fingerprint  string              `json:"fingerprint"`
	Dependencies []string            `json:"dependencies,omitempty"`
	Payload      jsoniter.RawMessage `json:"payload,omitempty"`
	// PayloadRaw holds payloads that are not JSON.
	PayloadRaw []byte `json:"payload_raw,omitempty"`
}

// Store writes assets under a root directory.
type Store struct {
	root   string
	logger *zap.Logger
	// mu serializes commits so two files never interleave renames.
	mu sync.Mutex
}

// New returns a Store rooted at root, creating the directory.
//
// Precondition: root must be non-empty.
// Postcondition: Returns a Store whose root exists, or a non-nil error.
func New(root string, logger *zap.Logger) (*Store, error) {
	if root == "" {
		return nil, errors.New("filestore: root must not be empty")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("filestore: creating root %s: %w", root, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{root: root, logger: logger}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// relPath converts a target path to a slash-separated path relative to a
// root, rejecting anything that could escape it.
func relPath(target string) (string, error) {
	if !strings.HasPrefix(target, "/") {
		return "", fmt.Errorf("target path %q is not absolute", target)
	}
	clean := path.Clean(target)
	if clean != target || clean == "/" {
		return "", fmt.Errorf("target path %q is not canonical", target)
	}
	for _, seg := range strings.Split(clean[1:], "/") {
		if seg == ".." || strings.HasPrefix(seg, stagingPrefix) {
			return "", fmt.Errorf("target path %q has a reserved segment %q", target, seg)
		}
	}
	return clean[1:], nil
}

func (s *Store) file(dir, rel, suffix string) string {
	return filepath.Join(dir, filepath.FromSlash(rel)+suffix)
}

// Get returns the manifest and payload of the committed asset at target.
func (s *Store) Get(target string) (Manifest, []byte, error) {
	rel, err := relPath(target)
	if err != nil {
		return Manifest{}, nil, err
	}
	data, err := os.ReadFile(s.file(s.root, rel, assetSuffix))
	if errors.Is(err, fs.ErrNotExist) {
		return Manifest{}, nil, ErrAssetNotFound
	}
	if err != nil {
		return Manifest{}, nil, fmt.Errorf("filestore: reading %s: %w", target, err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Manifest{}, nil, fmt.Errorf("filestore: decoding %s: %w", target, err)
	}
	raw, err := os.ReadFile(s.file(s.root, rel, manifestSuffix))
	if err != nil {
		return Manifest{}, nil, fmt.Errorf("filestore: reading manifest of %s: %w", target, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Manifest{}, nil, fmt.Errorf("filestore: decoding manifest of %s: %w", target, err)
	}
	payload := []byte(doc.Payload)
	if doc.PayloadRaw != nil {
		payload = doc.PayloadRaw
	}
	return m, payload, nil
}

// List returns every committed target path, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != s.root && strings.HasPrefix(d.Name(), stagingPrefix) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(p, assetSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, strings.TrimSuffix(p, assetSuffix))
		if err != nil {
			return err
		}
		out = append(out, "/"+filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("filestore: listing %s: %w", s.root, err)
	}
	sort.Strings(out)
	return out, nil
}

// Begin opens a transaction staged in a private directory under the root.
func (s *Store) Begin(ctx context.Context) (materialize.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(s.root, stagingPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("filestore: creating staging dir: %w", err)
	}
	return &tx{store: s, staging: dir, staged: map[string]bool{}}, nil
}

type tx struct {
	store   *Store
	staging string
	staged  map[string]bool
	order   []string
	done    bool
}

func (t *tx) Exists(_ context.Context, target string) (bool, error) {
	if t.done {
		return false, ErrTxDone
	}
	rel, err := relPath(target)
	if err != nil {
		return false, err
	}
	if t.staged[rel] {
		return true, nil
	}
	_, err = os.Stat(t.store.file(t.store.root, rel, assetSuffix))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	}
	return false, err
}

func (t *tx) CreateOrUpdate(ctx context.Context, w materialize.AssetWrite) (materialize.WriteStatus, string, error) {
	if t.done {
		return materialize.WriteFailed, "", ErrTxDone
	}
	rel, err := relPath(w.TargetPath)
	if err != nil {
		return materialize.WriteFailed, err.Error(), nil
	}
	exists, err := t.Exists(ctx, w.TargetPath)
	if err != nil {
		return materialize.WriteFailed, "", err
	}
	if exists && !w.Overwrite {
		return materialize.WriteSkipped, fmt.Sprintf("%s already exists", w.TargetPath), nil
	}

	doc := document{
		Path:         w.TargetPath,
		Kind:         w.Kind,
		Fingerprint:  w.Fingerprint.String(),
		Dependencies: w.Dependencies,
	}
	if json.Valid(w.Payload) {
		doc.Payload = w.Payload
	} else if len(w.Payload) > 0 {
		doc.PayloadRaw = w.Payload
	}
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return materialize.WriteFailed, "", err
	}
	manifest, err := yaml.Marshal(Manifest{
		Path:         w.TargetPath,
		Kind:         w.Kind,
		Fingerprint:  w.Fingerprint.String(),
		Dependencies: w.Dependencies,
		PayloadBytes: len(w.Payload),
		WrittenAt:    time.Now().UTC(),
	})
	if err != nil {
		return materialize.WriteFailed, "", err
	}

	assetFile := t.store.file(t.staging, rel, assetSuffix)
	if err := os.MkdirAll(filepath.Dir(assetFile), 0755); err != nil {
		return materialize.WriteFailed, err.Error(), nil
	}
	if err := os.WriteFile(assetFile, body, 0644); err != nil {
		return materialize.WriteFailed, err.Error(), nil
	}
	if err := os.WriteFile(t.store.file(t.staging, rel, manifestSuffix), manifest, 0644); err != nil {
		return materialize.WriteFailed, err.Error(), nil
	}
	if !t.staged[rel] {
		t.staged[rel] = true
		t.order = append(t.order, rel)
	}
	return materialize.WriteCreated, "", nil
}

// Commit moves every staged file into place. A failure part way leaves the
// already moved assets in place and reports the error.
func (t *tx) Commit(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	defer t.cleanup()

	for _, rel := range t.order {
		for _, suffix := range []string{assetSuffix, manifestSuffix} {
			dst := s.file(s.root, rel, suffix)
			if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
				return fmt.Errorf("filestore: creating %s: %w", filepath.Dir(dst), err)
			}
			if err := os.Rename(s.file(t.staging, rel, suffix), dst); err != nil {
				return fmt.Errorf("filestore: moving /%s into place: %w", rel, err)
			}
		}
	}
	s.logger.Debug("filestore: committed", zap.Int("assets", len(t.order)))
	return nil
}

func (t *tx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.cleanup()
	return nil
}

func (t *tx) cleanup() {
	if err := os.RemoveAll(t.staging); err != nil {
		t.store.logger.Warn("filestore: removing staging dir",
			zap.String("dir", t.staging),
			zap.Error(err),
		)
	}
}
