package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"telegram-warehouse/internal/models"
	"telegram-warehouse/internal/store"
	"telegram-warehouse/internal/warehouse"
)

type recordingNotifier struct {
	subjects []string
	bodies   []string
}

func (r *recordingNotifier) Notify(_ context.Context, subject, text string) error {
	r.subjects = append(r.subjects, subject)
	r.bodies = append(r.bodies, text)
	return nil
}

func setup(t *testing.T) (*store.Store, *warehouse.Loader) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	st := store.New(filepath.Join(t.TempDir(), "data"), logger)
	wh, err := warehouse.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "wh.db"), logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { wh.Close() })
	return st, wh
}

func chemed(id int64, text string) models.RawMessage {
	return models.RawMessage{Channel: "chemed", MessageID: id, Timestamp: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), Text: models.StringPtr(text)}
}

func TestRunLoadsMessagesAndDetections(t *testing.T) {
	st, wh := setup(t)
	ctx := context.Background()

	if err := st.WriteMessageBatch(ctx, "chemed", "2024-01-01", []models.RawMessage{chemed(1, "paracetamol 500mg"), chemed(2, "ignore")}); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(st.Layout().DateDir("2024-01-02"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := st.WriteDetections(ctx, []models.RawDetection{{
		Channel: "chemed", ImagePath: "x.jpg", Label: "pill_bottle", Confidence: 0.91, XMin: 10, YMin: 10, XMax: 50, YMax: 50,
	}}); err != nil {
		t.Fatal(err)
	}

	notifier := &recordingNotifier{}
	report, err := New(st, wh, notifier, zaptest.NewLogger(t)).Run(ctx, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Partitions != 2 || report.MessageRows != 2 || report.DetectionRows != 1 {
		t.Errorf("report = %+v", report)
	}
	if !report.OK() {
		t.Errorf("report has errors: %v %v", report.LoadErrors, report.Anomalies)
	}
	if len(notifier.subjects) != 0 {
		t.Errorf("alert sent for a clean run: %v", notifier.subjects)
	}

	count, err := wh.VerifyChannel(ctx, "chemed")
	if err != nil || count != 2 {
		t.Errorf("chemed rows = %d, %v; want 2", count, err)
	}

	// An empty detection batch replaces the previous snapshot.
	if err := st.WriteDetections(ctx, nil); err != nil {
		t.Fatal(err)
	}
	report, err = New(st, wh, notifier, zaptest.NewLogger(t)).Run(ctx, Options{SkipMessages: true})
	if err != nil {
		t.Fatal(err)
	}
	if report.Partitions != 0 || report.DetectionRows != 0 {
		t.Errorf("report = %+v", report)
	}
	detections, _ := wh.Verify(ctx, warehouse.DetectionsTable)
	if detections != 0 {
		t.Errorf("detections = %d after empty batch, want 0", detections)
	}
	messages, _ := wh.Verify(ctx, warehouse.MessagesTable)
	if messages != 2 {
		t.Errorf("messages = %d, want 2 (skipped)", messages)
	}
}

func TestRunDateFilter(t *testing.T) {
	st, wh := setup(t)
	ctx := context.Background()

	st.WriteMessageBatch(ctx, "chemed", "2024-01-01", []models.RawMessage{chemed(1, "a")})
	st.WriteMessageBatch(ctx, "chemed", "2024-01-02", []models.RawMessage{chemed(2, "b"), chemed(3, "c")})

	report, err := New(st, wh, nil, zaptest.NewLogger(t)).Run(ctx, Options{Date: "2024-01-02", SkipDetections: true})
	if err != nil {
		t.Fatal(err)
	}
	if report.Partitions != 1 || report.MessageRows != 2 {
		t.Errorf("report = %+v", report)
	}

	if _, err := New(st, wh, nil, zaptest.NewLogger(t)).Run(ctx, Options{Date: "01/02/2024"}); err == nil {
		t.Error("invalid date accepted")
	}
}

func TestRunMissingDetectionsKeepsSnapshot(t *testing.T) {
	st, wh := setup(t)
	ctx := context.Background()

	if err := wh.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := wh.LoadDetections(ctx, []models.RawDetection{{Channel: "chemed", ImagePath: "x.jpg", Label: "cup", Confidence: 0.5}}); err != nil {
		t.Fatal(err)
	}

	report, err := New(st, wh, nil, zaptest.NewLogger(t)).Run(ctx, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK() {
		t.Errorf("report = %+v", report)
	}
	count, _ := wh.Verify(ctx, warehouse.DetectionsTable)
	if count != 1 {
		t.Errorf("detections = %d, want previous snapshot of 1", count)
	}
}

func TestRunCorruptBatchIsRecoverable(t *testing.T) {
	st, wh := setup(t)
	ctx := context.Background()

	st.WriteMessageBatch(ctx, "chemed", "2024-01-01", []models.RawMessage{chemed(1, "a")})
	bad := st.Layout().MessageBatchPath(models.PartitionKey{Date: "2024-01-01", Channel: "tikvahpharma"})
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	notifier := &recordingNotifier{}
	report, err := New(st, wh, notifier, zaptest.NewLogger(t)).Run(ctx, Options{SkipDetections: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.MessageRows != 1 || len(report.LoadErrors) != 1 {
		t.Fatalf("report = %+v", report)
	}
	var le *warehouse.LoadError
	if !errors.As(report.LoadErrors[0], &le) || le.Partition != "2024-01-01/tikvahpharma" {
		t.Errorf("load error = %v", report.LoadErrors[0])
	}
	if len(notifier.subjects) != 1 || !strings.Contains(notifier.bodies[0], "tikvahpharma") {
		t.Errorf("alerts = %v %v", notifier.subjects, notifier.bodies)
	}
}

// lossyWarehouse accepts loads but never stores anything.
type lossyWarehouse struct {
	schemaErr     error
	detectionsErr error
	verified      []warehouse.Table
}

func (w *lossyWarehouse) EnsureSchema(context.Context) error { return w.schemaErr }

func (w *lossyWarehouse) LoadMessages(_ context.Context, _ models.PartitionKey, records []models.RawMessage) (int64, error) {
	return int64(len(records)), nil
}

func (w *lossyWarehouse) LoadDetections(_ context.Context, records []models.RawDetection) (int64, error) {
	if w.detectionsErr != nil {
		return 0, w.detectionsErr
	}
	return int64(len(records)), nil
}

func (w *lossyWarehouse) Verify(_ context.Context, table warehouse.Table) (int64, error) {
	w.verified = append(w.verified, table)
	return 0, nil
}

func (w *lossyWarehouse) VerifyChannel(context.Context, string) (int64, error) { return 0, nil }

func TestRunReportsAnomalies(t *testing.T) {
	st, _ := setup(t)
	ctx := context.Background()
	st.WriteMessageBatch(ctx, "chemed", "2024-01-01", []models.RawMessage{chemed(1, "paracetamol 500mg"), chemed(2, "ignore")})
	st.WriteDetections(ctx, []models.RawDetection{{Channel: "chemed", ImagePath: "x.jpg", Label: "cup", Confidence: 0.5}})

	notifier := &recordingNotifier{}
	report, err := New(st, &lossyWarehouse{}, notifier, zaptest.NewLogger(t)).Run(ctx, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Anomalies) != 2 {
		t.Fatalf("anomalies = %v, want one per table", report.Anomalies)
	}
	for _, a := range report.Anomalies {
		if !warehouse.IsAnomaly(a) {
			t.Errorf("%v is not a VerificationAnomaly", a)
		}
	}
	if len(notifier.subjects) != 1 || !strings.Contains(notifier.subjects[0], "2 anomalies") {
		t.Errorf("alerts = %v", notifier.subjects)
	}
}

func TestRunSchemaFailureIsFatal(t *testing.T) {
	st, _ := setup(t)
	wh := &lossyWarehouse{schemaErr: &warehouse.SchemaError{Op: "migrate", Err: errors.New("permission denied for database")}}

	_, err := New(st, wh, nil, zaptest.NewLogger(t)).Run(context.Background(), Options{})
	if !warehouse.IsFatal(err) {
		t.Fatalf("Run = %v, want fatal SchemaError", err)
	}
}

func TestRunVerifiesDetectionsAfterFailedLoad(t *testing.T) {
	st, _ := setup(t)
	ctx := context.Background()
	st.WriteDetections(ctx, []models.RawDetection{{Channel: "chemed", ImagePath: "x.jpg", Label: "cup", Confidence: 0.5}})

	wh := &lossyWarehouse{detectionsErr: &warehouse.LoadError{Table: warehouse.DetectionsTable, Err: errors.New("disk full")}}
	report, err := New(st, wh, nil, zaptest.NewLogger(t)).Run(ctx, Options{SkipMessages: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.LoadErrors) != 1 || len(report.Anomalies) != 0 || report.DetectionRows != 0 {
		t.Fatalf("report = %+v", report)
	}
	if len(wh.verified) != 1 || wh.verified[0] != warehouse.DetectionsTable {
		t.Errorf("verified = %v, want the detections table", wh.verified)
	}
}

func TestRunLoadsPythonDateBatch(t *testing.T) {
	st, wh := setup(t)
	ctx := context.Background()

	key := models.PartitionKey{Date: "2024-01-01", Channel: "chemed"}
	path := st.Layout().MessageBatchPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	batch := `[{"channel": "chemed", "id": 1, "date": "2024-01-01 08:00:00+00:00", "text": "paracetamol 500mg", "views": 10, "forwards": 0, "image_path": null}]`
	if err := os.WriteFile(path, []byte(batch), 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := New(st, wh, nil, zaptest.NewLogger(t)).Run(ctx, Options{SkipDetections: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.MessageRows != 1 || !report.OK() {
		t.Fatalf("report = %+v", report)
	}
}
