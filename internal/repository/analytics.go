package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"telegram-warehouse/internal/models"
	"telegram-warehouse/internal/warehouse"
)

// AnalyticsRepository defines the read-only queries over the marts.
type AnalyticsRepository interface {
	ChannelActivity(ctx context.Context) ([]models.ChannelActivity, error)
	SearchMessages(ctx context.Context, query string, limit int) ([]models.MessageHit, error)
	VisualReport(ctx context.Context) ([]models.VisualCategory, error)
	Detections(ctx context.Context, class string, limit int) ([]models.ImageDetection, error)
	TopProducts(ctx context.Context, limit int) ([]models.ProductMention, error)
	Ping(ctx context.Context) error
}

type analyticsRepository struct {
	db     *sqlx.DB
	logger *zap.Logger

	messages   string
	channels   string
	detections string
}

// NewAnalyticsRepository creates a new AnalyticsRepository.
func NewAnalyticsRepository(db *sqlx.DB, dialect warehouse.Dialect, logger *zap.Logger) AnalyticsRepository {
	return &analyticsRepository{
		db:         db,
		logger:     logger,
		messages:   dialect.Qualify(warehouse.FctMessages),
		channels:   dialect.Qualify(warehouse.DimChannels),
		detections: dialect.Qualify(warehouse.FctImageDetections),
	}
}

func (r *analyticsRepository) ChannelActivity(ctx context.Context) ([]models.ChannelActivity, error) {
	query := fmt.Sprintf(`
		SELECT c.channel_name, count(f.message_id) AS message_count
		FROM %s f
		JOIN %s c ON f.channel_key = c.channel_key
		GROUP BY c.channel_name
		ORDER BY message_count DESC, c.channel_name`, r.messages, r.channels)

	activity := []models.ChannelActivity{}
	if err := r.db.SelectContext(ctx, &activity, query); err != nil {
		return nil, fmt.Errorf("channel activity: %w", err)
	}
	return activity, nil
}

func (r *analyticsRepository) SearchMessages(ctx context.Context, text string, limit int) ([]models.MessageHit, error) {
	query := r.db.Rebind(fmt.Sprintf(`
		SELECT f.message_id, c.channel_name, f.message_text, f.timestamp
		FROM %s f
		JOIN %s c ON f.channel_key = c.channel_key
		WHERE lower(f.message_text) LIKE lower(?) ESCAPE '\'
		ORDER BY f.timestamp DESC, f.message_id DESC
		LIMIT ?`, r.messages, r.channels))

	hits := []models.MessageHit{}
	if err := r.db.SelectContext(ctx, &hits, query, "%"+escapeLike(text)+"%", limit); err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	return hits, nil
}

func (r *analyticsRepository) VisualReport(ctx context.Context) ([]models.VisualCategory, error) {
	query := fmt.Sprintf(`
		SELECT image_category, count(*) AS detection_count, avg(confidence_score) AS avg_confidence
		FROM %s
		GROUP BY image_category
		ORDER BY detection_count DESC, image_category`, r.detections)

	report := []models.VisualCategory{}
	if err := r.db.SelectContext(ctx, &report, query); err != nil {
		return nil, fmt.Errorf("visual report: %w", err)
	}
	return report, nil
}

// Detections returns the most confident detections, optionally of one class.
func (r *analyticsRepository) Detections(ctx context.Context, class string, limit int) ([]models.ImageDetection, error) {
	var (
		where string
		args  []any
	)
	if class != "" {
		where = "WHERE detected_class = ?"
		args = append(args, class)
	}
	args = append(args, limit)
	query := r.db.Rebind(fmt.Sprintf(`
		SELECT message_id, date_key, detected_class, confidence_score, image_category
		FROM %s
		%s
		ORDER BY confidence_score DESC, message_id
		LIMIT ?`, r.detections, where))

	detections := []models.ImageDetection{}
	if err := r.db.SelectContext(ctx, &detections, query, args...); err != nil {
		return nil, fmt.Errorf("detections: %w", err)
	}
	return detections, nil
}

// TopProducts counts repeated message texts, the closest thing to product
// mentions the marts offer.
func (r *analyticsRepository) TopProducts(ctx context.Context, limit int) ([]models.ProductMention, error) {
	query := r.db.Rebind(fmt.Sprintf(`
		SELECT message_text AS label, count(*) AS total
		FROM %s
		WHERE message_text IS NOT NULL
		GROUP BY message_text
		ORDER BY total DESC, label
		LIMIT ?`, r.messages))

	products := []models.ProductMention{}
	if err := r.db.SelectContext(ctx, &products, query, limit); err != nil {
		return nil, fmt.Errorf("top products: %w", err)
	}
	return products, nil
}

func (r *analyticsRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		r.logger.Warn("Database ping failed", zap.Error(err))
		return err
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
