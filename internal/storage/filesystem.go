// Package storage implements store.AssetStore on the local filesystem.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"scenepipe/internal/media"
	"scenepipe/internal/store"
)

// FileStore persists project manifests and asset records under a root
// directory. It is intended for development and single-node deployments
// where a database is not available.
//
// Layout:
//
//	<project>/project.json
//	<project>/<stage>/<scene>.json   asset record
//	<project>/<stage>/<scene>.<ext>  local copy, for file:// sources only
type FileStore struct {
	basePath string
	now      func() time.Time
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath, now: time.Now}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

type projectManifest struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Scenes    []string  `json:"scenes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type assetRecord struct {
	ProjectID string            `json:"project_id"`
	SceneID   string            `json:"scene_id"`
	Stage     media.Stage       `json:"stage"`
	SourceURL string            `json:"source_url"`
	LocalCopy string            `json:"local_copy,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	StoredAt  time.Time         `json:"stored_at"`
}

// InitializeProject writes (or refreshes) the project manifest.
func (s *FileStore) InitializeProject(ctx context.Context, projectID, title string, sceneIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := sanitizeKey(path.Join(projectID, "project.json"))
	if err != nil {
		return err
	}

	now := s.now().UTC()
	manifest := projectManifest{ID: projectID, Title: title, Scenes: sceneIDs, CreatedAt: now, UpdatedAt: now}
	if existing, err := s.readManifest(key); err == nil {
		manifest.CreatedAt = existing.CreatedAt
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode manifest: %w", err)
	}
	_, err = s.write(ctx, key, data)
	return err
}

// StoreAsset records an asset. Sources on the local filesystem are copied
// next to the record so the project directory is self-contained.
func (s *FileStore) StoreAsset(ctx context.Context, projectID, sceneID string, stage media.Stage, sourceURL string, metadata map[string]string) (store.StoredAsset, error) {
	if err := ctx.Err(); err != nil {
		return store.StoredAsset{}, err
	}
	if !stage.Valid() {
		return store.StoredAsset{}, fmt.Errorf("storage: unknown stage %q", stage)
	}
	base := path.Join(projectID, string(stage), sceneID)

	rec := assetRecord{
		ProjectID: projectID,
		SceneID:   sceneID,
		Stage:     stage,
		SourceURL: sourceURL,
		Metadata:  metadata,
		StoredAt:  s.now().UTC(),
	}

	if src, ok := localPath(sourceURL); ok {
		copyKey, err := s.copyFile(ctx, src, base+filepath.Ext(src))
		if err != nil {
			return store.StoredAsset{}, err
		}
		rec.LocalCopy = copyKey
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return store.StoredAsset{}, fmt.Errorf("storage: encode asset record: %w", err)
	}
	key, err := s.write(ctx, base+".json", data)
	if err != nil {
		return store.StoredAsset{}, err
	}

	if rec.LocalCopy != "" {
		key = rec.LocalCopy
	}
	return store.StoredAsset{
		ProjectID: projectID,
		SceneID:   sceneID,
		Stage:     stage,
		SourceURL: sourceURL,
		Key:       key,
		Metadata:  metadata,
		CreatedAt: rec.StoredAt,
	}, nil
}

// Ping verifies the root directory is still there.
func (s *FileStore) Ping(ctx context.Context) error {
	info, err := os.Stat(s.basePath)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage: %s is not a directory", s.basePath)
	}
	return nil
}

func (s *FileStore) readManifest(key string) (projectManifest, error) {
	var m projectManifest
	data, err := os.ReadFile(filepath.Join(s.basePath, filepath.FromSlash(key)))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(data, &m)
	return m, err
}

// write persists data at the given relative key and returns the
// canonicalized storage key.
func (s *FileStore) write(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	return cleanKey, nil
}

func (s *FileStore) copyFile(ctx context.Context, src, key string) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("storage: open source: %w", err)
	}
	defer in.Close()

	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	out, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("storage: create copy: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", fmt.Errorf("storage: copy source: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("storage: close copy: %w", err)
	}
	return cleanKey, ctx.Err()
}

func localPath(sourceURL string) (string, bool) {
	u, err := url.Parse(sourceURL)
	if err != nil || u.Scheme != "file" || u.Path == "" {
		return "", false
	}
	return filepath.FromSlash(u.Path), true
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

var _ store.AssetStore = (*FileStore)(nil)
