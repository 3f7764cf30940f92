package records

import (
	"context"
	"path/filepath"
	"testing"
)

func testExport() Export {
	return Export{
		Hosts: []Host{
			{ID: "h1", Label: "web", Address: "10.0.0.1", Port: 22, Username: "root"},
			{ID: "h2", Label: "db", Address: "10.0.0.2", Port: 2222, Username: "admin"},
		},
		Snippets: []Snippet{{ID: "s1", Name: "restart", Script: "systemctl restart app"}},
		Settings: map[string]string{"theme": "dark"},
		Presets:  []Preset{{ID: "p1", HostID: "h1", Protocol: "rdp", Params: map[string]string{"width": "1920"}}},
	}
}

func TestSQLiteImportExportRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.Import(ctx, testExport()); err != nil {
		t.Fatalf("import: %v", err)
	}
	got, err := s.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(got.Hosts) != 2 || got.Hosts[0].Address != "10.0.0.1" {
		t.Fatalf("unexpected hosts: %+v", got.Hosts)
	}
	if len(got.Snippets) != 1 || got.Snippets[0].Script != "systemctl restart app" {
		t.Fatalf("unexpected snippets: %+v", got.Snippets)
	}
	if got.Settings["theme"] != "dark" {
		t.Fatalf("unexpected settings: %+v", got.Settings)
	}
	if len(got.Presets) != 1 || got.Presets[0].Params["width"] != "1920" {
		t.Fatalf("unexpected presets: %+v", got.Presets)
	}
}

func TestSQLiteImportReplacesWholesale(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.Import(ctx, testExport()); err != nil {
		t.Fatalf("first import: %v", err)
	}
	replacement := Export{Hosts: []Host{{ID: "h9", Address: "192.168.1.9", Port: 22}}}
	if err := s.Import(ctx, replacement); err != nil {
		t.Fatalf("second import: %v", err)
	}
	got, err := s.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(got.Hosts) != 1 || got.Hosts[0].ID != "h9" {
		t.Fatalf("import must replace wholesale, got %+v", got.Hosts)
	}
	if len(got.Snippets) != 0 || len(got.Presets) != 0 {
		t.Fatal("stale rows survived import")
	}
}

func TestSQLiteImportDuplicateRollsBack(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.Import(ctx, testExport()); err != nil {
		t.Fatalf("seed import: %v", err)
	}
	bad := Export{Hosts: []Host{{ID: "dup", Address: "a"}, {ID: "dup", Address: "b"}}}
	if err := s.Import(ctx, bad); err == nil {
		t.Fatal("expected duplicate id to fail the transaction")
	}
	got, err := s.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(got.Hosts) != 2 {
		t.Fatalf("failed import must leave prior state intact, got %+v", got.Hosts)
	}
}
