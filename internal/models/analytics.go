package models

import "time"

// ChannelActivity is the message volume of one channel.
type ChannelActivity struct {
	ChannelName  string `db:"channel_name" json:"channel_name"`
	MessageCount int64  `db:"message_count" json:"message_count"`
}

// MessageHit is one message matched by a text search.
type MessageHit struct {
	MessageID   int64     `db:"message_id" json:"message_id"`
	ChannelName string    `db:"channel_name" json:"channel_name"`
	MessageText *string   `db:"message_text" json:"message_text"`
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`
}

// VisualCategory aggregates detections of one image category.
type VisualCategory struct {
	ImageCategory  string  `db:"image_category" json:"image_category"`
	DetectionCount int64   `db:"detection_count" json:"detection_count"`
	AvgConfidence  float64 `db:"avg_confidence" json:"avg_confidence"`
}

// ImageDetection is one row of the image detection mart.
type ImageDetection struct {
	MessageID       int64   `db:"message_id" json:"message_id"`
	DateKey         int64   `db:"date_key" json:"date_key"`
	DetectedClass   string  `db:"detected_class" json:"detected_class"`
	ConfidenceScore float64 `db:"confidence_score" json:"confidence_score"`
	ImageCategory   string  `db:"image_category" json:"image_category"`
}

// ProductMention counts how often one message text occurs.
type ProductMention struct {
	Label string `db:"label" json:"label"`
	Total int64  `db:"total" json:"total"`
}

// HealthStatus is the body of the health endpoint.
type HealthStatus struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}
