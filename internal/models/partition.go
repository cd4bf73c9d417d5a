package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the layout of partition date directories.
const DateLayout = "2006-01-02"

var channelRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidateChannel rejects names that are not plain Telegram usernames. Channel
// names become path components, so separators and dots are never allowed.
func ValidateChannel(channel string) error {
	if channel == "" {
		return fmt.Errorf("empty channel name")
	}
	if !channelRe.MatchString(channel) {
		return fmt.Errorf("invalid channel name %q", channel)
	}
	return nil
}

// NormalizeChannel strips a leading "@" or a t.me link prefix.
func NormalizeChannel(channel string) string {
	channel = strings.TrimSpace(channel)
	for _, prefix := range []string{"https://t.me/", "http://t.me/", "t.me/", "@"} {
		channel = strings.TrimPrefix(channel, prefix)
	}
	return strings.TrimSuffix(channel, "/")
}

// PartitionKey addresses one message batch: all messages of one channel
// scraped on one date. A key with an empty Channel stands for a date partition
// that holds no batches.
type PartitionKey struct {
	Date    string
	Channel string
}

// NewPartitionKey builds a key for channel at the UTC date of t.
func NewPartitionKey(t time.Time, channel string) PartitionKey {
	return PartitionKey{Date: t.UTC().Format(DateLayout), Channel: channel}
}

// Validate checks both components of the key.
func (k PartitionKey) Validate() error {
	if _, err := ParsePartitionDate(k.Date); err != nil {
		return err
	}
	if k.Channel == "" {
		return nil
	}
	return ValidateChannel(k.Channel)
}

// IsEmpty reports whether the key is a date-only partition.
func (k PartitionKey) IsEmpty() bool {
	return k.Channel == ""
}

func (k PartitionKey) String() string {
	if k.Channel == "" {
		return k.Date
	}
	return k.Date + "/" + k.Channel
}

// ParsePartitionDate parses a YYYY-MM-DD partition directory name.
func ParsePartitionDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid partition date %q: %w", s, err)
	}
	return t, nil
}

// ImageKey addresses one downloaded photo.
type ImageKey struct {
	Channel   string
	MessageID int64
}

// FileName is the image file name, <channel>_<messageId>.jpg. It is also the
// image reference stored in RawMessage.ImageRef and RawDetection.ImagePath.
func (k ImageKey) FileName() string {
	return k.Channel + "_" + strconv.FormatInt(k.MessageID, 10) + ".jpg"
}

// Validate checks both components of the key.
func (k ImageKey) Validate() error {
	if err := ValidateChannel(k.Channel); err != nil {
		return err
	}
	if k.MessageID <= 0 {
		return fmt.Errorf("image key for %q: message id must be positive", k.Channel)
	}
	return nil
}
