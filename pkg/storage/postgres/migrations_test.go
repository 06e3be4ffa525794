package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadMigrationsEmbedded(t *testing.T) {
	migrations, err := loadMigrations(embeddedMigrations, "migrations")
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("got %d migrations, want 2", len(migrations))
	}
	for i, m := range migrations {
		if m.Version != i+1 {
			t.Errorf("migrations[%d].Version = %d, want %d", i, m.Version, i+1)
		}
		if strings.TrimSpace(m.SQL) == "" {
			t.Errorf("migration %s is empty", m.Name)
		}
	}
}

func TestLoadMigrations(t *testing.T) {
	file := func(sql string) *fstest.MapFile { return &fstest.MapFile{Data: []byte(sql)} }

	tests := []struct {
		name    string
		files   fstest.MapFS
		want    []int
		wantErr string
	}{
		{
			name: "numeric order",
			files: fstest.MapFS{
				"m/10_late.sql":   file("SELECT 10"),
				"m/2_second.sql":  file("SELECT 2"),
				"m/001_first.sql": file("SELECT 1"),
			},
			want: []int{1, 2, 10},
		},
		{
			name: "ignores other files",
			files: fstest.MapFS{
				"m/001_first.sql": file("SELECT 1"),
				"m/README.md":     file("notes"),
			},
			want: []int{1},
		},
		{
			name:    "missing prefix",
			files:   fstest.MapFS{"m/create.sql": file("SELECT 1")},
			wantErr: "missing version prefix",
		},
		{
			name:    "non-numeric prefix",
			files:   fstest.MapFS{"m/v1_create.sql": file("SELECT 1")},
			wantErr: "invalid version",
		},
		{
			name: "duplicate version",
			files: fstest.MapFS{
				"m/001_a.sql": file("SELECT 1"),
				"m/1_b.sql":   file("SELECT 1"),
			},
			wantErr: "share version 1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := loadMigrations(tt.files, "m")
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("loadMigrations: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d migrations, want %d", len(got), len(tt.want))
			}
			for i, m := range got {
				if m.Version != tt.want[i] {
					t.Errorf("got[%d].Version = %d, want %d", i, m.Version, tt.want[i])
				}
			}
		})
	}
}
