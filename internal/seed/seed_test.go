package seed

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kubo-market/anomaly-sentinel/internal/domain"
	"github.com/kubo-market/anomaly-sentinel/internal/monitor"
	"github.com/kubo-market/anomaly-sentinel/internal/storage"
)

func TestGenerateSQL_ProducesValidSQL(t *testing.T) {
	sql := GenerateSQL()

	if !strings.HasPrefix(sql, "BEGIN;") {
		t.Error("expected SQL to start with BEGIN")
	}
	if !strings.HasSuffix(strings.TrimSpace(sql), "COMMIT;") {
		t.Error("expected SQL to end with COMMIT")
	}
}

func TestGenerateSQL_OneInsertPerRecord(t *testing.T) {
	sql := GenerateSQL()

	count := strings.Count(sql, "INSERT INTO records")
	if count != len(Records()) {
		t.Errorf("expected %d inserts, got %d", len(Records()), count)
	}
	for _, want := range []string{"'pikachu'", "ARRAY['grass', 'poison']::TEXT[]", "'{}'::TEXT[]", "-5, 48"} {
		if !strings.Contains(sql, want) {
			t.Errorf("expected SQL to contain %s", want)
		}
	}
}

func TestRecords_UniqueIDsAndNames(t *testing.T) {
	ids := map[int64]bool{}
	names := map[string]bool{}
	for _, rec := range Records() {
		if ids[rec.ID] || names[rec.Name] {
			t.Errorf("duplicate record %d/%s", rec.ID, rec.Name)
		}
		ids[rec.ID] = true
		names[rec.Name] = true
	}
}

func TestRecords_BrokenOnesTripRules(t *testing.T) {
	det := monitor.NewAnomalyDetector(nil)
	want := map[string]string{
		"corrupted-ditto":     "negative_stats",
		"missingno":           "invalid_types",
		"overclocked-porygon": "extreme_stats",
		"typeless-unown":      "missing_data",
	}

	for _, rec := range Records() {
		findings := det.Detect(rec)
		rule, isBroken := want[rec.Name]
		if !isBroken {
			if len(findings) != 0 {
				t.Errorf("%s should be clean, got %+v", rec.Name, findings)
			}
			continue
		}
		found := false
		for _, f := range findings {
			if f.Rule == rule {
				found = true
			}
		}
		if !found {
			t.Errorf("%s should trip %s, got %+v", rec.Name, rule, findings)
		}
	}
}

func TestRecords_ReturnsCopies(t *testing.T) {
	a := Records()
	a[0].Types[0] = "mutated"
	if Records()[0].Types[0] == "mutated" {
		t.Error("Records should not share type slices")
	}
}

func TestLoad(t *testing.T) {
	repo := storage.NewMemoryRepository()

	n, err := Load(context.Background(), repo)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != len(Records()) {
		t.Errorf("expected %d records, got %d", len(Records()), n)
	}
	rec, err := repo.GetByName(context.Background(), "missingno")
	if err != nil || rec.Types[0] != "glitch" {
		t.Errorf("unexpected missingno: %+v %v", rec, err)
	}
}

type failingWriter struct{ after int }

func (f *failingWriter) UpsertRecord(context.Context, domain.Record) error {
	if f.after == 0 {
		return errors.New("disk full")
	}
	f.after--
	return nil
}

func TestLoad_StopsOnError(t *testing.T) {
	n, err := Load(context.Background(), &failingWriter{after: 3})
	if err == nil {
		t.Fatal("expected error")
	}
	if n != 3 {
		t.Errorf("expected 3 records written before failure, got %d", n)
	}
}
