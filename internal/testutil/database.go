// Package testutil provides shared fixtures for the engine's tests: an
// isolated in-memory store and a canned reference geometry.
package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
	"github.com/uncovering-world/track-your-regions-sub005/internal/service"
	"github.com/uncovering-world/track-your-regions-sub005/internal/storage"
)

// TestDB is an isolated match-state store for one test.
type TestDB struct {
	Storage service.Storage
	t       *testing.T
}

// SetupTestDB creates an in-memory store, runs migrations, and registers
// cleanup.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return &TestDB{Storage: store, t: t}
}

// SeedWorldView creates a world view with a generated id.
func (db *TestDB) SeedWorldView(name string) *model.WorldView {
	db.t.Helper()

	view := &model.WorldView{ID: uuid.NewString(), Name: name}
	if err := db.Storage.CreateWorldView(context.Background(), view); err != nil {
		db.t.Fatalf("failed to seed world view: %v", err)
	}
	return view
}

// TreeSpec is a nested node specification for seeding.
type TreeSpec struct {
	Name     string
	Children []TreeSpec
}

// SeedTree persists a tree spec and returns nodes by name. Names must be
// unique within the spec.
func (db *TestDB) SeedTree(worldViewID string, spec TreeSpec) map[string]*model.SourceNode {
	db.t.Helper()

	nodes := make(map[string]*model.SourceNode)
	db.seedNode(worldViewID, spec, nil, "", nodes)
	return nodes
}

func (db *TestDB) seedNode(worldViewID string, spec TreeSpec, parentID *int64, path string, out map[string]*model.SourceNode) {
	db.t.Helper()

	node := &model.SourceNode{
		WorldViewID: worldViewID,
		ParentID:    parentID,
		Name:        spec.Name,
		Path:        path,
		IsLeaf:      len(spec.Children) == 0,
	}
	if err := db.Storage.SaveNode(context.Background(), node); err != nil {
		db.t.Fatalf("failed to seed node %q: %v", spec.Name, err)
	}
	if _, dup := out[spec.Name]; dup {
		db.t.Fatalf("duplicate node name %q in tree spec", spec.Name)
	}
	out[spec.Name] = node

	childPath := spec.Name
	if path != "" {
		childPath = path + " > " + spec.Name
	}
	for _, child := range spec.Children {
		db.seedNode(worldViewID, child, &node.ID, childPath, out)
	}
}
