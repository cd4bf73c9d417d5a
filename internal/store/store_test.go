package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"telegram-warehouse/internal/models"
)

func TestLayoutPaths(t *testing.T) {
	l := Layout{Root: "data"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"batch", l.MessageBatchPath(models.PartitionKey{Date: "2024-01-01", Channel: "chemed"}),
			filepath.Join("data", "raw", "telegram_messages", "2024-01-01", "chemed.json")},
		{"image", l.ImagePath(models.ImageKey{Channel: "chemed", MessageID: 12}),
			filepath.Join("data", "raw", "images", "chemed", "chemed_12.jpg")},
		{"detections", l.DetectionsPath(), filepath.Join("data", "yolo_results.csv")},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s path = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestWriteAndReadMessageBatch(t *testing.T) {
	s := New(t.TempDir(), zaptest.NewLogger(t))
	ctx := context.Background()

	records := []models.RawMessage{
		{Channel: "chemed", MessageID: 2, Timestamp: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), Text: models.StringPtr("paracetamol 500mg")},
		{Channel: "chemed", MessageID: 1, Timestamp: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), Text: models.StringPtr("ignore")},
	}
	if err := s.WriteMessageBatch(ctx, "chemed", "2024-01-01", records); err != nil {
		t.Fatalf("WriteMessageBatch: %v", err)
	}

	got, err := s.ReadMessageBatch(models.PartitionKey{Date: "2024-01-01", Channel: "chemed"})
	if err != nil {
		t.Fatalf("ReadMessageBatch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d records, want 2", len(got))
	}
	// order as received from the source
	if got[0].MessageID != 2 || got[1].MessageID != 1 {
		t.Fatalf("order not preserved: %d, %d", got[0].MessageID, got[1].MessageID)
	}
	if got[0].Text == nil || *got[0].Text != "paracetamol 500mg" {
		t.Fatalf("text = %v", got[0].Text)
	}

	entries, err := os.ReadDir(s.Layout().DateDir("2024-01-01"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the batch file, found %d entries", len(entries))
	}
}

func TestReadMessageBatchPythonDates(t *testing.T) {
	s := New(t.TempDir(), zaptest.NewLogger(t))
	key := models.PartitionKey{Date: "2024-01-01", Channel: "CheMed123"}

	batch := `[
    {
        "channel": "CheMed123",
        "id": 101,
        "date": "2024-01-01 08:00:00+00:00",
        "text": "Amoxicillin 500mg available",
        "views": 350,
        "forwards": 2,
        "image_path": "CheMed123_101.jpg"
    },
    {
        "channel": "CheMed123",
        "id": 100,
        "date": "2024-01-01 07:30:00+00:00",
        "text": null,
        "views": null,
        "forwards": null,
        "image_path": null
    }
]`
	path := s.Layout().MessageBatchPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(batch), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := s.ReadMessageBatch(key)
	if err != nil {
		t.Fatalf("ReadMessageBatch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d records, want 2", len(got))
	}
	if !got[0].Timestamp.Equal(time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %v", got[0].Timestamp)
	}
	if got[1].Text != nil || got[1].ImageRef != nil {
		t.Errorf("nulls not preserved: %+v", got[1])
	}
}

func TestWriteMessageBatchRejectsForeignChannel(t *testing.T) {
	s := New(t.TempDir(), zaptest.NewLogger(t))
	records := []models.RawMessage{{Channel: "tikvahpharma", MessageID: 1}}
	err := s.WriteMessageBatch(context.Background(), "chemed", "2024-01-01", records)
	if err == nil {
		t.Fatal("expected error for record of another channel")
	}
	if _, statErr := os.Stat(s.Layout().MessageBatchPath(models.PartitionKey{Date: "2024-01-01", Channel: "chemed"})); !errors.Is(statErr, fs.ErrNotExist) {
		t.Fatal("invalid batch must not be written")
	}
}

func TestWriteMessageBatchIsIdempotentOnDirectories(t *testing.T) {
	s := New(t.TempDir(), zaptest.NewLogger(t))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := s.WriteMessageBatch(ctx, "chemed", "2024-01-01", nil); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	data, err := os.ReadFile(s.Layout().MessageBatchPath(models.PartitionKey{Date: "2024-01-01", Channel: "chemed"}))
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) != "[]" {
		t.Fatalf("empty batch encoded as %q", data)
	}
}

func TestListPartitions(t *testing.T) {
	s := New(t.TempDir(), zaptest.NewLogger(t))
	ctx := context.Background()

	msg := func(ch string) []models.RawMessage { return []models.RawMessage{{Channel: ch, MessageID: 1}} }
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(s.WriteMessageBatch(ctx, "tikvahpharma", "2024-01-02", msg("tikvahpharma")))
	must(s.WriteMessageBatch(ctx, "chemed", "2024-01-01", msg("chemed")))
	must(s.WriteMessageBatch(ctx, "lobelia4cosmetics", "2024-01-01", nil))
	must(os.MkdirAll(s.Layout().DateDir("2024-01-03"), 0o755))
	must(os.MkdirAll(filepath.Join(s.Layout().MessagesRoot(), "not-a-date"), 0o755))

	got := slices.Collect(s.ListPartitions())
	want := []models.PartitionKey{
		{Date: "2024-01-01", Channel: "chemed"},
		{Date: "2024-01-01", Channel: "lobelia4cosmetics"},
		{Date: "2024-01-02", Channel: "tikvahpharma"},
		{Date: "2024-01-03"},
	}
	if !slices.Equal(got, want) {
		t.Fatalf("ListPartitions() = %v, want %v", got, want)
	}

	// recomputed on every call
	must(s.WriteMessageBatch(ctx, "cafimadEt", "2024-01-03", nil))
	got = slices.Collect(s.ListPartitions())
	if got[len(got)-1] != (models.PartitionKey{Date: "2024-01-03", Channel: "cafimadEt"}) {
		t.Fatalf("new partition not listed: %v", got)
	}

	empty, err := s.ReadMessageBatch(models.PartitionKey{Date: "2024-01-01", Channel: "lobelia4cosmetics"})
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty batch read = %v, %v", empty, err)
	}
}

func TestListPartitionsMissingRootWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := New(filepath.Join(t.TempDir(), "missing"), zap.New(core))

	if got := slices.Collect(s.ListPartitions()); len(got) != 0 {
		t.Fatalf("expected no partitions, got %v", got)
	}
	if got := slices.Collect(s.ListChannels()); len(got) != 0 {
		t.Fatalf("expected no channels, got %v", got)
	}
	if logs.FilterMessage("Data directory not found, nothing to list").Len() != 2 {
		t.Fatalf("expected a warning per listing, got %v", logs.All())
	}
}

func TestListImages(t *testing.T) {
	s := New(t.TempDir(), zaptest.NewLogger(t))
	ctx := context.Background()

	for _, id := range []int64{3, 1} {
		ref, err := s.WriteImage(ctx, "chemed", id, strings.NewReader("jpeg"))
		if err != nil {
			t.Fatalf("WriteImage: %v", err)
		}
		if want := (models.ImageKey{Channel: "chemed", MessageID: id}).FileName(); ref != want {
			t.Fatalf("ref = %q, want %q", ref, want)
		}
	}
	if err := os.WriteFile(filepath.Join(s.Layout().ImageDir("chemed"), "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	channels := slices.Collect(s.ListChannels())
	if !slices.Equal(channels, []string{"chemed"}) {
		t.Fatalf("channels = %v", channels)
	}
	images := slices.Collect(s.ListImages("chemed"))
	want := []string{
		filepath.Join(s.Layout().ImageDir("chemed"), "chemed_1.jpg"),
		filepath.Join(s.Layout().ImageDir("chemed"), "chemed_3.jpg"),
	}
	if !slices.Equal(images, want) {
		t.Fatalf("images = %v, want %v", images, want)
	}
	if got := slices.Collect(s.ListImages("../chemed")); len(got) != 0 {
		t.Fatalf("traversal listed %v", got)
	}
}

func TestDetectionsFile(t *testing.T) {
	s := New(t.TempDir(), zaptest.NewLogger(t))
	ctx := context.Background()

	if _, err := s.ReadDetections(); !errors.Is(err, ErrNoDetections) || !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("missing file error = %v", err)
	}

	in := []models.RawDetection{{
		Channel: "chemed", ImagePath: "chemed_1.jpg", Label: "bottle",
		Confidence: 0.9134567890123, XMin: 10.5, YMin: 10, XMax: 50, YMax: 50.25,
	}}
	if err := s.WriteDetections(ctx, in); err != nil {
		t.Fatalf("WriteDetections: %v", err)
	}
	out, err := s.ReadDetections()
	if err != nil {
		t.Fatalf("ReadDetections: %v", err)
	}
	if !slices.Equal(out, in) {
		t.Fatalf("detections = %+v, want %+v", out, in)
	}

	if err := s.WriteDetections(ctx, nil); err != nil {
		t.Fatal(err)
	}
	out, err = s.ReadDetections()
	if err != nil || len(out) != 0 {
		t.Fatalf("empty snapshot read = %v, %v", out, err)
	}
}

func TestDecodeDetectionsByHeaderName(t *testing.T) {
	csvData := "label,channel,image_path,confidence,x_min,y_min,x_max,y_max,extra\n" +
		"person,chemed,chemed_2.jpg,0.5,1,2,3,4,ignored\n"
	out, err := decodeDetections(strings.NewReader(csvData))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Label != "person" || out[0].Channel != "chemed" || out[0].YMax != 4 {
		t.Fatalf("decoded %+v", out)
	}

	if _, err := decodeDetections(strings.NewReader("channel,label\nchemed,x\n")); err == nil {
		t.Fatal("expected missing column error")
	}
}
