package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap/zaptest"

	"telegram-warehouse/internal/warehouse"
)

// martsSchema mirrors the tables the transform project builds, flattened for
// SQLite.
const martsSchema = `
CREATE TABLE marts_dim_channels (channel_key INTEGER PRIMARY KEY, channel_name TEXT NOT NULL);
CREATE TABLE marts_fct_messages (message_id INTEGER, channel_key INTEGER, message_text TEXT, timestamp TIMESTAMP);
CREATE TABLE marts_fct_image_detections (message_id INTEGER, date_key INTEGER, detected_class TEXT, confidence_score REAL, image_category TEXT);
`

func newTestRepository(t *testing.T) (AnalyticsRepository, *sqlx.DB) {
	t.Helper()
	db, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "marts.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(martsSchema); err != nil {
		t.Fatalf("create marts: %v", err)
	}
	return NewAnalyticsRepository(db, warehouse.SQLite, zaptest.NewLogger(t)), db
}

func seedMarts(t *testing.T, db *sqlx.DB) {
	t.Helper()
	day := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	stmts := []struct {
		query string
		args  []any
	}{
		{`INSERT INTO marts_dim_channels VALUES (1, 'chemed'), (2, 'tikvahpharma')`, nil},
		{`INSERT INTO marts_fct_messages VALUES (?, ?, ?, ?)`, []any{1, 1, "Paracetamol 500mg", day}},
		{`INSERT INTO marts_fct_messages VALUES (?, ?, ?, ?)`, []any{2, 1, "ignore", day.Add(time.Hour)}},
		{`INSERT INTO marts_fct_messages VALUES (?, ?, ?, ?)`, []any{3, 2, "paracetamol 500mg", day.Add(2 * time.Hour)}},
		{`INSERT INTO marts_fct_messages VALUES (?, ?, ?, ?)`, []any{4, 2, "100% genuine_stock", day.Add(3 * time.Hour)}},
		{`INSERT INTO marts_fct_messages VALUES (?, ?, ?, ?)`, []any{5, 2, nil, day.Add(4 * time.Hour)}},
		{`INSERT INTO marts_fct_image_detections VALUES (1, 20240101, 'bottle', 0.9, 'product_display'), (3, 20240101, 'person', 0.6, 'promotional'), (3, 20240101, 'bottle', 0.7, 'promotional')`, nil},
	}
	for _, s := range stmts {
		if _, err := db.Exec(s.query, s.args...); err != nil {
			t.Fatalf("%s: %v", s.query, err)
		}
	}
}

func TestChannelActivity(t *testing.T) {
	repo, db := newTestRepository(t)
	seedMarts(t, db)

	got, err := repo.ChannelActivity(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ChannelName != "tikvahpharma" || got[0].MessageCount != 3 || got[1].MessageCount != 2 {
		t.Errorf("activity = %+v", got)
	}
}

func TestSearchMessages(t *testing.T) {
	repo, db := newTestRepository(t)
	seedMarts(t, db)
	ctx := context.Background()

	got, err := repo.SearchMessages(ctx, "PARACETAMOL", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("hits = %+v, want 2", got)
	}
	if got[0].MessageID != 3 || got[0].ChannelName != "tikvahpharma" {
		t.Errorf("newest hit = %+v", got[0])
	}
	if !got[1].Timestamp.Equal(time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %v", got[1].Timestamp)
	}

	limited, err := repo.SearchMessages(ctx, "paracetamol", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limit ignored: %d hits", len(limited))
	}

	// Wildcards in the query are matched literally.
	for query, want := range map[string]int{"%": 1, "_stock": 1, "e_u": 0} {
		hits, err := repo.SearchMessages(ctx, query, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) != want {
			t.Errorf("search %q = %d hits, want %d", query, len(hits), want)
		}
	}
}

func TestVisualReport(t *testing.T) {
	repo, db := newTestRepository(t)
	seedMarts(t, db)

	got, err := repo.VisualReport(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("report = %+v", got)
	}
	if got[0].ImageCategory != "promotional" || got[0].DetectionCount != 2 {
		t.Errorf("first = %+v", got[0])
	}
	if avg := got[0].AvgConfidence; avg < 0.649 || avg > 0.651 {
		t.Errorf("avg confidence = %v, want 0.65", avg)
	}
}

func TestDetections(t *testing.T) {
	repo, db := newTestRepository(t)
	seedMarts(t, db)
	ctx := context.Background()

	all, err := repo.Detections(ctx, "", 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ConfidenceScore != 0.9 || all[0].DateKey != 20240101 {
		t.Errorf("detections = %+v", all)
	}

	bottles, err := repo.Detections(ctx, "bottle", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(bottles) != 1 || bottles[0].DetectedClass != "bottle" || bottles[0].MessageID != 1 {
		t.Errorf("bottles = %+v", bottles)
	}
}

func TestTopProducts(t *testing.T) {
	repo, db := newTestRepository(t)
	seedMarts(t, db)

	got, err := repo.TopProducts(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Errorf("products = %+v, want 4 distinct non-null texts", got)
	}
	for _, p := range got {
		if p.Total != 1 {
			t.Errorf("%q counted %d times", p.Label, p.Total)
		}
	}
}

func TestQueriesFailWithoutMarts(t *testing.T) {
	db, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "empty.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	repo := NewAnalyticsRepository(db, warehouse.SQLite, zaptest.NewLogger(t))

	if _, err := repo.ChannelActivity(context.Background()); err == nil {
		t.Error("ChannelActivity succeeded without marts")
	}
	if err := repo.Ping(context.Background()); err != nil {
		t.Errorf("Ping = %v", err)
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`50%_off\`); got != `50\%\_off\\` {
		t.Errorf("escapeLike = %q", got)
	}
}
