// Package storage persists incident audio recordings on the local
// filesystem and serves them back over HTTP.
//
// Objects are addressed by an opaque reference of the form
// "{owner}/{incident}/{ulid}{ext}". Every upload is size-limited and
// content-sniffed against an allow-list of audio types before it is written.
package storage

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/oklog/ulid/v2"

	"github.com/nerrad567/incidentdesk/internal/infrastructure/config"
)

const (
	dirPermissions  = 0750
	filePermissions = 0640
)

// Sentinel errors returned by Store.
var (
	ErrEmpty           = errors.New("audio file is empty")
	ErrTooLarge        = errors.New("audio file exceeds the size limit")
	ErrUnsupportedType = errors.New("audio type not allowed")
	ErrInvalidRef      = errors.New("invalid storage reference")
)

// segmentPattern restricts owner and incident path segments.
var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// refPattern matches references produced by Store.
var refPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}/[A-Za-z0-9][A-Za-z0-9_-]{0,63}/[0-9A-Z]{26}\.[a-z0-9]{1,8}$`)

// FileStore keeps audio objects under a root directory.
type FileStore struct {
	root      string
	urlPrefix string
	maxBytes  int64
	allowed   []string

	entropyMu sync.Mutex
	entropy   io.Reader
}

// NewFileStore creates the root directory and returns a store.
func NewFileStore(cfg config.StorageConfig) (*FileStore, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if err := os.MkdirAll(cfg.Root, dirPermissions); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}
	return &FileStore{
		root:      cfg.Root,
		urlPrefix: "/" + strings.Trim(cfg.URLPrefix, "/"),
		maxBytes:  cfg.MaxBytes,
		allowed:   cfg.AllowedTypes,
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// MaxBytes is the largest accepted upload.
func (s *FileStore) MaxBytes() int64 { return s.maxBytes }

// Store validates and writes one recording for ownerID and incidentID and
// returns its reference. Nothing is written when validation fails.
func (s *FileStore) Store(ctx context.Context, r io.Reader, ownerID, incidentID string) (string, error) {
	if !segmentPattern.MatchString(ownerID) || !segmentPattern.MatchString(incidentID) {
		return "", fmt.Errorf("%w: owner %q incident %q", ErrInvalidRef, ownerID, incidentID)
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("reading upload: %w", err)
	}
	switch {
	case len(data) == 0:
		return "", ErrEmpty
	case int64(len(data)) > s.maxBytes:
		return "", fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, s.maxBytes)
	}

	mt, ok := s.detect(data)
	if !ok {
		return "", fmt.Errorf("%w: detected %s", ErrUnsupportedType, mimetype.Detect(data).String())
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	ref := path.Join(ownerID, incidentID, s.newName()+mt.Extension())
	if err := s.write(ref, data); err != nil {
		return "", err
	}
	return ref, nil
}

// detect returns the sniffed type when it, or one of its parents, is on
// the allow-list.
func (s *FileStore) detect(data []byte) (*mimetype.MIME, bool) {
	detected := mimetype.Detect(data)
	for m := detected; m != nil; m = m.Parent() {
		for _, allowed := range s.allowed {
			if m.Is(allowed) {
				return detected, true
			}
		}
	}
	return nil, false
}

func (s *FileStore) newName() string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// write stores data via a temp file and rename so readers never see a
// partial object.
func (s *FileStore) write(ref string, data []byte) error {
	dst := filepath.Join(s.root, filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(dst), dirPermissions); err != nil {
		return fmt.Errorf("creating object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("creating temp object: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after rename

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close() //nolint:errcheck // already failing
		return fmt.Errorf("writing object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing object: %w", err)
	}
	if err := os.Chmod(tmpName, filePermissions); err != nil {
		return fmt.Errorf("setting object permissions: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("committing object: %w", err)
	}
	return nil
}

// ResolveURL returns the public path for ref, or "" for an invalid ref.
func (s *FileStore) ResolveURL(ref string) string {
	if !refPattern.MatchString(ref) {
		return ""
	}
	return path.Join(s.urlPrefix, ref)
}

// Delete removes the object behind ref and reports whether it existed.
func (s *FileStore) Delete(ref string) bool {
	if !refPattern.MatchString(ref) {
		return false
	}
	err := os.Remove(filepath.Join(s.root, filepath.FromSlash(ref)))
	return err == nil
}

// URLPrefix is the path under which Handler must be mounted.
func (s *FileStore) URLPrefix() string { return s.urlPrefix }

// Handler serves stored objects under URLPrefix. Directory listings and
// anything that is not a well-formed reference are answered with 404.
func (s *FileStore) Handler() http.Handler {
	files := http.FileServer(http.Dir(s.root))
	return http.StripPrefix(s.urlPrefix, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ref := strings.TrimPrefix(r.URL.Path, "/")
		if !refPattern.MatchString(ref) {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("X-Content-Type-Options", "nosniff")
		files.ServeHTTP(w, r)
	}))
}
