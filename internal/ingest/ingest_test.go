package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"proxyward/internal/apperr"
	"proxyward/internal/db"
	"proxyward/internal/model"

	"gorm.io/gorm"
)

func setup(t *testing.T) (*gorm.DB, *Ingestor, string) {
	t.Helper()
	database, err := db.Connect(":memory:")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close(database) })

	provider := model.Provider{Name: "acme"}
	if err := database.Create(&provider).Error; err != nil {
		t.Fatal(err)
	}
	proxy := model.ProxyEndpoint{ProviderID: provider.ID, Label: "us-1", Host: "10.0.0.1", Port: 8080, Protocol: model.ProtocolHTTP}
	if err := database.Create(&proxy).Error; err != nil {
		t.Fatal(err)
	}
	run := model.TestRun{ProxyID: proxy.ID, Status: model.StatusRunning}
	if err := database.Create(&run).Error; err != nil {
		t.Fatal(err)
	}

	return database, New(database), run.ID
}

func mkSamples(n int) []model.HttpSample {
	samples := make([]model.HttpSample, n)
	for i := range samples {
		samples[i] = model.HttpSample{
			Seq:       int64(i + 1),
			TargetURL: fmt.Sprintf("http://target:3001/echo?n=%d", i),
		}
	}
	return samples
}

func TestIngestEmptyBatch(t *testing.T) {
	_, ing, runID := setup(t)

	if _, err := ing.IngestHTTPSamples(context.Background(), runID, nil); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("empty batch: got %v, want ValidationError", err)
	}
}

func TestIngestOversizedBatch(t *testing.T) {
	database, ing, runID := setup(t)

	if _, err := ing.IngestHTTPSamples(context.Background(), runID, mkSamples(101)); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("101 samples: got %v, want ValidationError", err)
	}

	var count int64
	database.Model(&model.HttpSample{}).Count(&count)
	if count != 0 {
		t.Errorf("rejected batch left %d rows", count)
	}
}

func TestIngestFullBatch(t *testing.T) {
	database, ing, runID := setup(t)

	n, err := ing.IngestHTTPSamples(context.Background(), runID, mkSamples(100))
	if err != nil {
		t.Fatalf("100 samples: %v", err)
	}
	if n != 100 {
		t.Errorf("inserted = %d, want 100", n)
	}

	var count int64
	database.Model(&model.HttpSample{}).Where("run_id = ?", runID).Count(&count)
	if count != 100 {
		t.Errorf("stored %d rows, want 100", count)
	}
}

func TestIngestRunNotFound(t *testing.T) {
	_, ing, _ := setup(t)

	if _, err := ing.IngestHTTPSamples(context.Background(), "no-such-run", mkSamples(1)); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing run: got %v, want NotFound", err)
	}
}

// Seq is caller-owned: duplicates and gaps go in as-is.
func TestIngestPreservesSeq(t *testing.T) {
	database, ing, runID := setup(t)

	samples := mkSamples(3)
	samples[0].Seq = 7
	samples[1].Seq = 7
	samples[2].Seq = 99

	if _, err := ing.IngestHTTPSamples(context.Background(), runID, samples); err != nil {
		t.Fatal(err)
	}

	var seqs []int64
	database.Model(&model.HttpSample{}).Where("run_id = ?", runID).Order("seq").Pluck("seq", &seqs)
	want := []int64{7, 7, 99}
	if len(seqs) != 3 {
		t.Fatalf("got %d rows, want 3", len(seqs))
	}
	for i := range want {
		if seqs[i] != want[i] {
			t.Errorf("seq[%d] = %d, want %d", i, seqs[i], want[i])
		}
	}
}

// A failure mid-batch must leave zero rows, not a prefix. Two samples sharing
// a preassigned primary key force the second insert to fail.
func TestIngestAtomicity(t *testing.T) {
	database, ing, runID := setup(t)

	samples := mkSamples(3)
	samples[0].ID = "dup-id"
	samples[2].ID = "dup-id"

	if _, err := ing.IngestHTTPSamples(context.Background(), runID, samples); err == nil {
		t.Fatal("expected unique-constraint failure")
	}

	var count int64
	database.Model(&model.HttpSample{}).Where("run_id = ?", runID).Count(&count)
	if count != 0 {
		t.Errorf("failed batch left %d rows, want 0", count)
	}
}
