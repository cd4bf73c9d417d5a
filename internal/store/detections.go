package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"

	"go.uber.org/zap"

	"telegram-warehouse/internal/models"
)

// ErrNoDetections is returned by ReadDetections when no detection batch has
// been written yet.
var ErrNoDetections = fmt.Errorf("no detection batch: %w", fs.ErrNotExist)

// DetectionColumns is the header of yolo_results.csv.
var DetectionColumns = []string{"channel", "image_path", "label", "confidence", "x_min", "y_min", "x_max", "y_max"}

// WriteDetections replaces the detection batch with records. An empty batch
// is written as a header-only file.
func (s *Store) WriteDetections(ctx context.Context, records []models.RawDetection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(DetectionColumns); err != nil {
		return err
	}
	for _, d := range records {
		if err := w.Write([]string{
			d.Channel,
			d.ImagePath,
			d.Label,
			formatFloat(d.Confidence),
			formatFloat(d.XMin),
			formatFloat(d.YMin),
			formatFloat(d.XMax),
			formatFloat(d.YMax),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to encode detections: %w", err)
	}

	path := s.layout.DetectionsPath()
	if err := writeAtomic(path, &buf); err != nil {
		return fmt.Errorf("failed to write detections: %w", err)
	}
	s.logger.Info("Detection batch written", zap.Int("count", len(records)), zap.String("path", path))
	return nil
}

// ReadDetections decodes the detection batch. Columns are matched by header
// name, so extra or reordered columns are tolerated.
func (s *Store) ReadDetections() ([]models.RawDetection, error) {
	f, err := os.Open(s.layout.DetectionsPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoDetections
		}
		return nil, fmt.Errorf("failed to open detections: %w", err)
	}
	defer f.Close()
	return decodeDetections(f)
}

func decodeDetections(r io.Reader) ([]models.RawDetection, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read detections header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	for _, col := range DetectionColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("detections file is missing column %q", col)
		}
	}

	var records []models.RawDetection
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read detections: %w", err)
		}
		d := models.RawDetection{
			Channel:   row[idx["channel"]],
			ImagePath: row[idx["image_path"]],
			Label:     row[idx["label"]],
		}
		for col, dst := range map[string]*float64{
			"confidence": &d.Confidence,
			"x_min":      &d.XMin,
			"y_min":      &d.YMin,
			"x_max":      &d.XMax,
			"y_max":      &d.YMax,
		} {
			v, err := strconv.ParseFloat(row[idx[col]], 64)
			if err != nil {
				return nil, fmt.Errorf("detections line %d: column %s: %w", line, col, err)
			}
			*dst = v
		}
		records = append(records, d)
	}
	return records, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
