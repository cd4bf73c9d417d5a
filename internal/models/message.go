package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RawMessage is one scraped channel message as it is written to the local store
// and later landed, whole, in raw.telegram_messages.content.
type RawMessage struct {
	Channel   string    `json:"channel"`
	MessageID int64     `json:"id"`
	Timestamp time.Time `json:"date"`
	Text      *string   `json:"text"`
	Views     *int      `json:"views"`
	Forwards  *int      `json:"forwards"`
	ImageRef  *string   `json:"image_path"` // <channel>_<id>.jpg, nil when the message has no photo
}

// messageDateLayouts are the accepted encodings of the "date" field: RFC 3339
// and the space separated "2006-01-02 15:04:05+00:00" form. Fractional seconds
// are accepted by both.
var messageDateLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05Z07:00"}

type rawMessageFields RawMessage

// UnmarshalJSON decodes a message record, accepting either date format.
func (m *RawMessage) UnmarshalJSON(data []byte) error {
	var aux struct {
		rawMessageFields
		Date *string `json:"date"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*m = RawMessage(aux.rawMessageFields)
	if aux.Date == nil || *aux.Date == "" {
		m.Timestamp = time.Time{}
		return nil
	}
	ts, err := ParseMessageDate(*aux.Date)
	if err != nil {
		return fmt.Errorf("message %d: %w", m.MessageID, err)
	}
	m.Timestamp = ts
	return nil
}

// ParseMessageDate parses a message timestamp in any accepted layout.
func ParseMessageDate(s string) (time.Time, error) {
	for _, layout := range messageDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid message date %q", s)
}

// Validate checks the required fields of a message record.
func (m RawMessage) Validate() error {
	if err := ValidateChannel(m.Channel); err != nil {
		return err
	}
	if m.MessageID <= 0 {
		return fmt.Errorf("message %d in %q: id must be positive", m.MessageID, m.Channel)
	}
	if m.Views != nil && *m.Views < 0 {
		return fmt.Errorf("message %d in %q: negative views", m.MessageID, m.Channel)
	}
	if m.Forwards != nil && *m.Forwards < 0 {
		return fmt.Errorf("message %d in %q: negative forwards", m.MessageID, m.Channel)
	}
	return nil
}

// ValidateBatch validates every record of a batch and checks that they all
// belong to channel.
func ValidateBatch(channel string, records []RawMessage) error {
	var errs []error
	for i, m := range records {
		if err := m.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		if m.Channel != channel {
			errs = append(errs, fmt.Errorf("record %d: channel %q does not match partition channel %q", i, m.Channel, channel))
		}
	}
	return errors.Join(errs...)
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
