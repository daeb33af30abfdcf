package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"scenepipe/internal/media"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return &Store{db: db}, mock
}

func TestInitializeProject_Success(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO projects`).
		WithArgs("proj-1", "Demo").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO project_scenes`).
		WithArgs("proj-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	if err := store.InitializeProject(context.Background(), "proj-1", "Demo", []string{"s1", "s2"}); err != nil {
		t.Fatalf("InitializeProject failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestInitializeProject_RollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO projects`).
		WithArgs("proj-1", "Demo").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO project_scenes`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.InitializeProject(context.Background(), "proj-1", "Demo", []string{"s1"})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected wrapped error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestInitializeProject_BeginFails(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	if err := store.InitializeProject(context.Background(), "proj-1", "Demo", nil); err == nil {
		t.Fatal("expected error when the transaction cannot start")
	}
}

func TestStoreAsset_Success(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	createdAt := time.Now().Truncate(time.Second)
	mock.ExpectQuery(`INSERT INTO assets`).
		WithArgs(sqlmock.AnyArg(), "proj-1", "s1", "images", "https://cdn/1.png", []byte(`{"cached":"false"}`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).
			AddRow("7f1c2a9e-0000-4000-8000-000000000001", createdAt))

	asset, err := store.StoreAsset(context.Background(), "proj-1", "s1", media.StageImages, "https://cdn/1.png", map[string]string{"cached": "false"})
	if err != nil {
		t.Fatalf("StoreAsset failed: %v", err)
	}
	if asset.Key != "7f1c2a9e-0000-4000-8000-000000000001" {
		t.Errorf("got Key %s", asset.Key)
	}
	if asset.Stage != media.StageImages || asset.SourceURL != "https://cdn/1.png" {
		t.Errorf("unexpected asset %+v", asset)
	}
	if !asset.CreatedAt.Equal(createdAt) {
		t.Errorf("got CreatedAt %v, want %v", asset.CreatedAt, createdAt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStoreAsset_DBError(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	mock.ExpectQuery(`INSERT INTO assets`).
		WillReturnError(errors.New("violates foreign key constraint"))

	_, err := store.StoreAsset(context.Background(), "missing", "s1", media.StageAudio, "https://cdn/1.mp3", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "audio asset for scene s1") {
		t.Errorf("expected contextual error, got %v", err)
	}
}

func TestListAssets(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	now := time.Now().Truncate(time.Second)
	mock.ExpectQuery(`SELECT a.id, a.scene_id, a.stage`).
		WithArgs("proj-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "scene_id", "stage", "source_url", "metadata", "created_at"}).
			AddRow("a1", "s1", "images", "https://cdn/1.png", []byte(`{"model":"dall-e-3"}`), now).
			AddRow("a2", "s1", "audio", "https://cdn/1.mp3", []byte(`{}`), now))

	assets, err := store.ListAssets(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("ListAssets failed: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(assets))
	}
	if assets[0].Metadata["model"] != "dall-e-3" || assets[1].Stage != media.StageAudio {
		t.Errorf("unexpected assets %+v", assets)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	store := &Store{db: db}
	defer store.Close()

	mock.ExpectPing().WillReturnError(errors.New("down"))
	if err := store.Ping(context.Background()); err == nil {
		t.Error("expected ping error")
	}
}

func TestMigrationSource(t *testing.T) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("failed to read embedded migrations: %v", err)
	}
	var up, down int
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			up++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			down++
		}
	}
	if up == 0 || up != down {
		t.Errorf("expected paired up/down migrations, got %d up and %d down", up, down)
	}
}
