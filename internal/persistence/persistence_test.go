package persistence

import (
	"context"
	"errors"
	"testing"
)

type mockPersistence struct {
	listFunc func(ctx context.Context, projectPath string) ([]string, error)
	loadFunc func(ctx context.Context, projectPath, assetID string) ([]string, error)
	saveFunc func(ctx context.Context, projectPath, assetID string, tags []string) error
}

func (m *mockPersistence) ListAssets(ctx context.Context, projectPath string) ([]string, error) {
	return m.listFunc(ctx, projectPath)
}

func (m *mockPersistence) LoadTags(ctx context.Context, projectPath, assetID string) ([]string, error) {
	return m.loadFunc(ctx, projectPath, assetID)
}

func (m *mockPersistence) SaveTags(ctx context.Context, projectPath, assetID string, tags []string) error {
	return m.saveFunc(ctx, projectPath, assetID, tags)
}

func TestLoadProject(t *testing.T) {
	t.Parallel()

	data := map[string][]string{
		"a.png": {"sky", "tree"},
		"b.png": {},
	}
	p := &mockPersistence{
		listFunc: func(_ context.Context, _ string) ([]string, error) {
			return []string{"a.png", "b.png"}, nil
		},
		loadFunc: func(_ context.Context, _ string, id string) ([]string, error) {
			return data[id], nil
		},
	}

	assets, err := LoadProject(context.Background(), p, "/data")
	if err != nil {
		t.Fatalf("LoadProject failed: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("Expected 2 assets, got %d", len(assets))
	}
	if assets[0].ID != "a.png" || len(assets[0].Tags) != 2 {
		t.Errorf("Unexpected first asset %+v", assets[0])
	}
}

func TestLoadProject_Errors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tests := []struct {
		name    string
		list    []string
		listErr error
		tags    []string
		loadErr error
		wantErr error
	}{
		{"list failure", nil, boom, nil, nil, boom},
		{"load failure", []string{"a"}, nil, nil, ErrNotFound, ErrNotFound},
		{"duplicate tags", []string{"a"}, nil, []string{"x", "x"}, nil, ErrMalformed},
		{"empty tag", []string{"a"}, nil, []string{""}, nil, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &mockPersistence{
				listFunc: func(_ context.Context, _ string) ([]string, error) { return tt.list, tt.listErr },
				loadFunc: func(_ context.Context, _, _ string) ([]string, error) { return tt.tags, tt.loadErr },
			}
			_, err := LoadProject(context.Background(), p, "/data")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCheckTags(t *testing.T) {
	t.Parallel()

	if err := CheckTags([]string{"a", "b", "A"}); err != nil {
		t.Errorf("Expected valid tags, got %v", err)
	}
	if err := CheckTags(nil); err != nil {
		t.Errorf("Expected nil tags to be valid, got %v", err)
	}
	if err := CheckTags([]string{"a", "a"}); !errors.Is(err, ErrMalformed) {
		t.Errorf("Expected ErrMalformed, got %v", err)
	}
}
