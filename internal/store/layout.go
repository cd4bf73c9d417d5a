package store

import (
	"path/filepath"

	"telegram-warehouse/internal/models"
)

// Directory and file names under the data root.
const (
	RawDir         = "raw"
	MessagesDir    = "telegram_messages"
	ImagesDir      = "images"
	DetectionsFile = "yolo_results.csv"
	batchExt       = ".json"
)

// Layout maps partition keys to paths under Root. It does no I/O.
type Layout struct {
	Root string
}

// MessagesRoot is data/raw/telegram_messages.
func (l Layout) MessagesRoot() string {
	return filepath.Join(l.Root, RawDir, MessagesDir)
}

// DateDir is data/raw/telegram_messages/<date>.
func (l Layout) DateDir(date string) string {
	return filepath.Join(l.MessagesRoot(), date)
}

// MessageBatchPath is data/raw/telegram_messages/<date>/<channel>.json.
func (l Layout) MessageBatchPath(key models.PartitionKey) string {
	return filepath.Join(l.DateDir(key.Date), key.Channel+batchExt)
}

// ImagesRoot is data/raw/images.
func (l Layout) ImagesRoot() string {
	return filepath.Join(l.Root, RawDir, ImagesDir)
}

// ImageDir is data/raw/images/<channel>.
func (l Layout) ImageDir(channel string) string {
	return filepath.Join(l.ImagesRoot(), channel)
}

// ImagePath is data/raw/images/<channel>/<channel>_<messageId>.jpg.
func (l Layout) ImagePath(key models.ImageKey) string {
	return filepath.Join(l.ImageDir(key.Channel), key.FileName())
}

// DetectionsPath is data/yolo_results.csv.
func (l Layout) DetectionsPath() string {
	return filepath.Join(l.Root, DetectionsFile)
}
