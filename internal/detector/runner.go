package detector

import (
	"context"
	"iter"
	"path/filepath"

	"go.uber.org/zap"

	"telegram-warehouse/internal/models"
)

// ImageStore lists collected images and receives the detection batch.
type ImageStore interface {
	ListChannels() iter.Seq[string]
	ListImages(channel string) iter.Seq[string]
	WriteDetections(ctx context.Context, records []models.RawDetection) error
}

// Summary counts the outcome of one detection run.
type Summary struct {
	Images     int
	Failed     int
	Detections int
	Dropped    int
}

// Runner runs the detector over every stored image and writes one flattened
// detection batch.
type Runner struct {
	detector      Detector
	store         ImageStore
	minConfidence float64
	logger        *zap.Logger
}

// NewRunner creates a Runner. Detections below minConfidence are discarded.
func NewRunner(d Detector, store ImageStore, minConfidence float64, logger *zap.Logger) *Runner {
	return &Runner{
		detector:      d,
		store:         store,
		minConfidence: minConfidence,
		logger:        logger,
	}
}

// Run detects objects in all images and replaces the detection batch with the
// result. An image that fails is logged and skipped. The batch is written even
// when it is empty: it is the current state, not an increment.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	var (
		summary Summary
		batch   []models.RawDetection
	)
	for channel := range r.store.ListChannels() {
		log := r.logger.With(zap.String("channel", channel))
		log.Info("Processing images for channel")

		for path := range r.store.ListImages(channel) {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			summary.Images++
			name := filepath.Base(path)

			found, err := r.detector.Detect(ctx, path)
			if err != nil {
				summary.Failed++
				log.Error("Detection failed", zap.String("image", name), zap.Error(err))
				continue
			}
			for _, d := range found {
				rec := models.RawDetection{
					Channel:    channel,
					ImagePath:  name,
					Label:      d.Label,
					Confidence: d.Confidence,
					XMin:       d.Box[0],
					YMin:       d.Box[1],
					XMax:       d.Box[2],
					YMax:       d.Box[3],
				}
				if err := rec.Validate(); err != nil {
					summary.Dropped++
					log.Warn("Dropping invalid detection", zap.String("image", name), zap.Error(err))
					continue
				}
				if rec.Confidence < r.minConfidence {
					summary.Dropped++
					continue
				}
				batch = append(batch, rec)
			}
		}
	}

	if err := r.store.WriteDetections(ctx, batch); err != nil {
		return summary, err
	}
	summary.Detections = len(batch)
	r.logger.Info("Detection run finished",
		zap.Int("images", summary.Images),
		zap.Int("failed", summary.Failed),
		zap.Int("detections", summary.Detections),
		zap.Int("dropped", summary.Dropped))
	return summary, nil
}
