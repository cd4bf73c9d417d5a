package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"telegram-warehouse/internal/models"
)

// Store is the on-disk landing area for scraped messages, photos and the
// flattened detection batch. Files are never rewritten in place: every write
// goes to a temp file in the target directory and is renamed over the target.
type Store struct {
	layout Layout
	logger *zap.Logger
}

// New creates a Store rooted at dataDir. The directory does not need to exist.
func New(dataDir string, logger *zap.Logger) *Store {
	return &Store{
		layout: Layout{Root: dataDir},
		logger: logger,
	}
}

// Layout returns the path layout of the store.
func (s *Store) Layout() Layout {
	return s.layout
}

// WriteMessageBatch writes the full ordered batch of one channel for one date.
// An existing batch for the same partition is replaced.
func (s *Store) WriteMessageBatch(ctx context.Context, channel, date string, records []models.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := models.PartitionKey{Date: date, Channel: channel}
	if err := key.Validate(); err != nil {
		return err
	}
	if key.IsEmpty() {
		return fmt.Errorf("message batch for %s: empty channel", date)
	}
	if err := models.ValidateBatch(channel, records); err != nil {
		return fmt.Errorf("invalid batch %s: %w", key, err)
	}
	if records == nil {
		records = []models.RawMessage{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("failed to encode batch %s: %w", key, err)
	}

	path := s.layout.MessageBatchPath(key)
	if err := writeAtomic(path, &buf); err != nil {
		return fmt.Errorf("failed to write batch %s: %w", key, err)
	}
	s.logger.Debug("Message batch written",
		zap.String("partition", key.String()),
		zap.Int("count", len(records)),
		zap.String("path", path))
	return nil
}

// ReadMessageBatch decodes and validates the batch of one partition. A date-only
// key reads as an empty batch.
func (s *Store) ReadMessageBatch(key models.PartitionKey) ([]models.RawMessage, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if key.IsEmpty() {
		return nil, nil
	}
	data, err := os.ReadFile(s.layout.MessageBatchPath(key))
	if err != nil {
		return nil, fmt.Errorf("failed to read batch %s: %w", key, err)
	}
	var records []models.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode batch %s: %w", key, err)
	}
	if err := models.ValidateBatch(key.Channel, records); err != nil {
		return nil, fmt.Errorf("invalid batch %s: %w", key, err)
	}
	return records, nil
}

// WriteImage stores one photo and returns its image reference
// (<channel>_<messageId>.jpg).
func (s *Store) WriteImage(ctx context.Context, channel string, messageID int64, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := models.ImageKey{Channel: channel, MessageID: messageID}
	if err := key.Validate(); err != nil {
		return "", err
	}
	if err := writeAtomic(s.layout.ImagePath(key), r); err != nil {
		return "", fmt.Errorf("failed to write image %s: %w", key.FileName(), err)
	}
	return key.FileName(), nil
}

// ListPartitions walks the message tree and yields one key per channel batch,
// ordered by date then channel. Date directories without batches yield a
// date-only key. The tree is re-read on every call.
func (s *Store) ListPartitions() iter.Seq[models.PartitionKey] {
	return func(yield func(models.PartitionKey) bool) {
		dates, ok := s.readDir(s.layout.MessagesRoot())
		if !ok {
			return
		}
		for _, d := range dates {
			if !d.IsDir() {
				continue
			}
			if _, err := models.ParsePartitionDate(d.Name()); err != nil {
				s.logger.Debug("Skipping non-partition directory", zap.String("dir", d.Name()))
				continue
			}
			files, err := os.ReadDir(s.layout.DateDir(d.Name()))
			if err != nil {
				// removed between the two reads
				s.logger.Warn("Failed to read partition directory", zap.String("date", d.Name()), zap.Error(err))
				continue
			}
			found := false
			for _, f := range files {
				if f.IsDir() || !strings.HasSuffix(f.Name(), batchExt) {
					continue
				}
				channel := strings.TrimSuffix(f.Name(), batchExt)
				if err := models.ValidateChannel(channel); err != nil {
					s.logger.Warn("Skipping batch file with invalid channel name",
						zap.String("date", d.Name()), zap.String("file", f.Name()))
					continue
				}
				found = true
				if !yield(models.PartitionKey{Date: d.Name(), Channel: channel}) {
					return
				}
			}
			if !found {
				if !yield(models.PartitionKey{Date: d.Name()}) {
					return
				}
			}
		}
	}
}

// ListChannels yields the channels that have an image directory.
func (s *Store) ListChannels() iter.Seq[string] {
	return func(yield func(string) bool) {
		entries, ok := s.readDir(s.layout.ImagesRoot())
		if !ok {
			return
		}
		for _, e := range entries {
			if !e.IsDir() || models.ValidateChannel(e.Name()) != nil {
				continue
			}
			if !yield(e.Name()) {
				return
			}
		}
	}
}

// ListImages yields the paths of the image files of one channel.
func (s *Store) ListImages(channel string) iter.Seq[string] {
	return func(yield func(string) bool) {
		if err := models.ValidateChannel(channel); err != nil {
			s.logger.Warn("Refusing to list images", zap.Error(err))
			return
		}
		dir := s.layout.ImageDir(channel)
		entries, ok := s.readDir(dir)
		if !ok {
			return
		}
		for _, e := range entries {
			if e.IsDir() || !isImage(e.Name()) {
				continue
			}
			if !yield(filepath.Join(dir, e.Name())) {
				return
			}
		}
	}
}

// readDir lists dir. A missing directory means no data yet: it is logged and
// reported as ok=false rather than returned as an error.
func (s *Store) readDir(dir string) ([]os.DirEntry, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Data directory not found, nothing to list", zap.String("dir", dir))
		} else {
			s.logger.Warn("Failed to read data directory", zap.String("dir", dir), zap.Error(err))
		}
		return nil, false
	}
	return entries, true
}

func isImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

func writeAtomic(path string, r io.Reader) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if _, err = io.Copy(tmp, r); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
