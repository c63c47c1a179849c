package recon

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/hazyhaar/sonde/catalog"
)

func exportService(t *testing.T) *Service {
	t.Helper()
	handlers := Registry{
		"domain": func(ctx context.Context, src catalog.Source, query string) (map[string]any, error) {
			return map[string]any{"found": true, "records": []string{"mail." + query}}, nil
		},
		"email": okHandler(false),
	}
	svc, err := New(testCatalog(t), handlers, testConfig(), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func TestExport_JSON(t *testing.T) {
	// WHAT: A JSON export of a populated cache parses back and carries
	// one entry per cached envelope.
	svc := exportService(t)
	if _, err := svc.Run(context.Background(), "example.com", "domain"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	out, err := svc.Export("json")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	var doc struct {
		Entries []exportRow `json:"entries"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if len(doc.Entries) != 3 {
		t.Errorf("entries = %d, want 3", len(doc.Entries))
	}
	for _, e := range doc.Entries {
		if e.Envelope.Query != "example.com" {
			t.Errorf("entry %s has query %q", e.Key, e.Envelope.Query)
		}
	}
}

func TestExport_CSV(t *testing.T) {
	// WHAT: A CSV export has the header row plus one row per envelope,
	// and parses with a standard CSV reader.
	svc := exportService(t)
	if _, err := svc.Run(context.Background(), "example.com", "domain"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	out, err := svc.Export("csv")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("export is not valid CSV: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("rows = %d, want header + 3", len(records))
	}
	if records[0][0] != "source_id" {
		t.Errorf("header = %v", records[0])
	}
}

func TestExport_Deterministic(t *testing.T) {
	// WHAT: Two exports of the same cache state produce identical row
	// ordering (sorted by cache key).
	// WHY: Map iteration order must not leak into the artifact; diffs of
	// consecutive exports should reflect data changes only.
	svc := exportService(t)
	if _, err := svc.Run(context.Background(), "example.com", "domain"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	a, err := svc.Export("csv")
	if err != nil {
		t.Fatalf("first export: %v", err)
	}
	b, err := svc.Export("csv")
	if err != nil {
		t.Fatalf("second export: %v", err)
	}
	if a != b {
		t.Error("consecutive exports of unchanged state differ")
	}
}

func TestExport_UnknownFormat(t *testing.T) {
	// WHAT: An unsupported format returns ErrUnknownFormat.
	svc := exportService(t)
	if _, err := svc.Export("xml"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("expected ErrUnknownFormat, got: %v", err)
	}
}

func TestExport_EmptyCache(t *testing.T) {
	// WHAT: Exporting an empty cache yields a valid, empty artifact.
	svc := exportService(t)

	out, err := svc.Export("json")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	var doc struct {
		Entries []exportRow `json:"entries"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(doc.Entries) != 0 {
		t.Errorf("entries = %d, want 0", len(doc.Entries))
	}
}
