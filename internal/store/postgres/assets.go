package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"scenepipe/internal/media"
	"scenepipe/internal/store"
)

// InitializeProject upserts the project row and its scene list in one transaction.
func (s *Store) InitializeProject(ctx context.Context, projectID, title string, sceneIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertProject(ctx, tx, projectID, title); err != nil {
		return err
	}
	if err := insertScenes(ctx, tx, projectID, sceneIDs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit project %s: %w", projectID, err)
	}
	return nil
}

func upsertProject(ctx context.Context, tx store.DBTransaction, projectID, title string) error {
	query := `
		INSERT INTO projects (id, title, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, updated_at = now()
	`
	if _, err := tx.ExecContext(ctx, query, projectID, title); err != nil {
		return fmt.Errorf("upsert project %s: %w", projectID, err)
	}
	return nil
}

func insertScenes(ctx context.Context, tx store.DBTransaction, projectID string, sceneIDs []string) error {
	query := `
		INSERT INTO project_scenes (project_id, scene_id, position)
		SELECT $1, s.id, s.ord
		FROM unnest($2::text[]) WITH ORDINALITY AS s(id, ord)
		ON CONFLICT (project_id, scene_id) DO UPDATE SET position = EXCLUDED.position
	`
	if _, err := tx.ExecContext(ctx, query, projectID, pq.Array(sceneIDs)); err != nil {
		return fmt.Errorf("insert scenes for %s: %w", projectID, err)
	}
	return nil
}

// StoreAsset records a completed asset. Re-storing the same (scene, stage)
// replaces the previous source.
func (s *Store) StoreAsset(ctx context.Context, projectID, sceneID string, stage media.Stage, sourceURL string, metadata map[string]string) (store.StoredAsset, error) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return store.StoredAsset{}, fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO assets (id, project_id, scene_id, stage, source_url, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (project_id, scene_id, stage)
		DO UPDATE SET source_url = EXCLUDED.source_url, metadata = EXCLUDED.metadata
		RETURNING id, created_at
	`

	var (
		id        string
		createdAt time.Time
	)
	err = s.db.QueryRowContext(ctx, query, uuid.NewString(), projectID, sceneID, string(stage), sourceURL, metaJSON).
		Scan(&id, &createdAt)
	if err != nil {
		return store.StoredAsset{}, fmt.Errorf("store %s asset for scene %s: %w", stage, sceneID, err)
	}

	return store.StoredAsset{
		ProjectID: projectID,
		SceneID:   sceneID,
		Stage:     stage,
		SourceURL: sourceURL,
		Key:       id,
		Metadata:  metadata,
		CreatedAt: createdAt,
	}, nil
}

// ListAssets returns the stored assets of a project ordered by scene position.
func (s *Store) ListAssets(ctx context.Context, projectID string) ([]store.StoredAsset, error) {
	query := `
		SELECT a.id, a.scene_id, a.stage, a.source_url, a.metadata, a.created_at
		FROM assets a
		LEFT JOIN project_scenes ps ON ps.project_id = a.project_id AND ps.scene_id = a.scene_id
		WHERE a.project_id = $1
		ORDER BY ps.position, a.stage
	`
	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("list assets for %s: %w", projectID, err)
	}
	defer rows.Close()

	var assets []store.StoredAsset
	for rows.Next() {
		var (
			a        store.StoredAsset
			stage    string
			metaJSON []byte
		)
		if err := rows.Scan(&a.Key, &a.SceneID, &stage, &a.SourceURL, &metaJSON, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.ProjectID = projectID
		a.Stage = media.Stage(stage)
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &a.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of asset %s: %w", a.Key, err)
			}
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

var _ store.AssetStore = (*Store)(nil)
