package collector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"telegram-warehouse/internal/models"
)

// SourceMessage is one message as returned by a Source. Photo is a
// source-specific handle passed back to DownloadPhoto; it is nil when the
// message carries no photo.
type SourceMessage struct {
	ID       int64
	Date     time.Time
	Text     string
	Views    *int
	Forwards *int
	Photo    any
}

// Source is an external messaging service that can list recent channel
// messages and fetch their photos.
type Source interface {
	FetchRecent(ctx context.Context, channel string, limit int) ([]SourceMessage, error)
	DownloadPhoto(ctx context.Context, photo any, w io.Writer) error
}

// Sink persists what the collector gathers.
type Sink interface {
	WriteMessageBatch(ctx context.Context, channel, date string, records []models.RawMessage) error
	WriteImage(ctx context.Context, channel string, messageID int64, r io.Reader) (string, error)
}

// Options configures a Collector.
type Options struct {
	Channels    []string
	Limit       int
	Concurrency int
	Timeout     time.Duration // per channel, 0 for none
	Now         func() time.Time
}

// Summary counts the outcome of one collection run.
type Summary struct {
	Channels int
	Failed   int
	Messages int
	Images   int
}

// Collector pulls the latest messages of each configured channel from a
// Source and writes them to today's partition of the local store.
type Collector struct {
	source Source
	sink   Sink
	opts   Options
	logger *zap.Logger
}

// New creates a Collector.
func New(source Source, sink Sink, opts Options, logger *zap.Logger) *Collector {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Collector{
		source: source,
		sink:   sink,
		opts:   opts,
		logger: logger,
	}
}

// Run scrapes every channel once. A failing channel is logged and skipped and
// writes nothing; the run only returns an error when ctx is canceled.
func (c *Collector) Run(ctx context.Context) (Summary, error) {
	date := c.opts.Now().UTC().Format(models.DateLayout)

	var (
		mu      sync.Mutex
		summary Summary
	)
	g := new(errgroup.Group)
	g.SetLimit(c.opts.Concurrency)

	for _, raw := range c.opts.Channels {
		channel := models.NormalizeChannel(raw)
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			messages, images, err := c.scrapeChannel(ctx, channel, date)

			mu.Lock()
			defer mu.Unlock()
			summary.Channels++
			if err != nil {
				summary.Failed++
				c.logger.Error("Error scraping channel", zap.String("channel", channel), zap.Error(err))
				return nil
			}
			summary.Messages += messages
			summary.Images += images
			return nil
		})
	}
	g.Wait()

	c.logger.Info("Scrape run finished",
		zap.String("date", date),
		zap.Int("channels", summary.Channels),
		zap.Int("failed", summary.Failed),
		zap.Int("messages", summary.Messages),
		zap.Int("images", summary.Images))
	return summary, ctx.Err()
}

func (c *Collector) scrapeChannel(ctx context.Context, channel, date string) (int, int, error) {
	if err := models.ValidateChannel(channel); err != nil {
		return 0, 0, err
	}
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	log := c.logger.With(zap.String("channel", channel))
	log.Info("Starting scrape", zap.Int("limit", c.opts.Limit))

	fetched, err := c.source.FetchRecent(ctx, channel, c.opts.Limit)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to fetch messages: %w", err)
	}

	records := make([]models.RawMessage, 0, len(fetched))
	images := 0
	for _, m := range fetched {
		rec := models.RawMessage{
			Channel:   channel,
			MessageID: m.ID,
			Timestamp: m.Date.UTC(),
			Text:      models.StringPtr(m.Text),
			Views:     m.Views,
			Forwards:  m.Forwards,
		}
		if m.Photo != nil {
			ref, err := c.savePhoto(ctx, channel, m)
			if err != nil {
				log.Warn("Failed to download photo", zap.Int64("message_id", m.ID), zap.Error(err))
			} else {
				rec.ImageRef = &ref
				images++
			}
		}
		records = append(records, rec)
	}

	if err := c.sink.WriteMessageBatch(ctx, channel, date, records); err != nil {
		return 0, images, fmt.Errorf("failed to write batch: %w", err)
	}
	log.Info("Successfully scraped messages", zap.Int("messages", len(records)), zap.Int("images", images))
	return len(records), images, nil
}

func (c *Collector) savePhoto(ctx context.Context, channel string, m SourceMessage) (string, error) {
	var buf bytes.Buffer
	if err := c.source.DownloadPhoto(ctx, m.Photo, &buf); err != nil {
		return "", err
	}
	return c.sink.WriteImage(ctx, channel, m.ID, &buf)
}
