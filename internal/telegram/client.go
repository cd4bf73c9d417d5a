package telegram

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"telegram-warehouse/internal/collector"
	"telegram-warehouse/internal/config"
)

// historyPage is the largest page messages.getHistory returns.
const historyPage = 100

// Client is an MTProto user client that reads public channel history.
type Client struct {
	client *telegram.Client
	cfg    config.TelegramConfig
	logger *zap.Logger

	// codeInput is read when TG_AUTH_CODE is not set.
	codeInput io.Reader
}

// NewClient creates a Telegram client. The session is persisted to
// cfg.SessionFile so that the login code is only needed once.
func NewClient(cfg config.TelegramConfig, logger *zap.Logger) *Client {
	client := telegram.NewClient(cfg.APIID, cfg.APIHash, telegram.Options{
		Logger:         logger.Named("mtproto").WithOptions(zap.IncreaseLevel(zap.WarnLevel)),
		SessionStorage: &session.FileStorage{Path: cfg.SessionFile},
	})
	return &Client{
		client:    client,
		cfg:       cfg,
		logger:    logger,
		codeInput: os.Stdin,
	}
}

// Run connects, authenticates if the stored session is missing or expired,
// and calls fn with the connected client. The connection is closed when fn
// returns.
func (c *Client) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.client.Run(ctx, func(ctx context.Context) error {
		if err := c.auth(ctx); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
		c.logger.Info("Telegram client started and authenticated.")
		return fn(ctx)
	})
}

func (c *Client) auth(ctx context.Context) error {
	flow := auth.NewFlow(
		auth.Constant(c.cfg.Phone, c.cfg.Password, auth.CodeAuthenticatorFunc(c.readCode)),
		auth.SendCodeOptions{},
	)
	return c.client.Auth().IfNecessary(ctx, flow)
}

func (c *Client) readCode(ctx context.Context, _ *tg.AuthSentCode) (string, error) {
	if code := strings.TrimSpace(os.Getenv("TG_AUTH_CODE")); code != "" {
		return code, nil
	}
	c.logger.Info("Waiting for authentication code on stdin...")

	type result struct {
		code string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(c.codeInput).ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			done <- result{err: fmt.Errorf("failed to read code: %w", err)}
			return
		}
		done <- result{code: strings.TrimSpace(line)}
	}()

	select {
	case r := <-done:
		return r.code, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// FetchRecent returns up to limit most recent messages of a public channel,
// newest first. Service messages are skipped.
func (c *Client) FetchRecent(ctx context.Context, channel string, limit int) ([]collector.SourceMessage, error) {
	api := c.client.API()
	peer, err := message.NewSender(api).Resolve(channel).AsInputPeer(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", channel, err)
	}

	var (
		out      []collector.SourceMessage
		offsetID int
	)
	for len(out) < limit {
		page := min(historyPage, limit-len(out))
		res, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     peer,
			OffsetID: offsetID,
			Limit:    page,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get history of %s: %w", channel, err)
		}

		msgs := historyMessages(res)
		if len(msgs) == 0 {
			break
		}
		for _, mc := range msgs {
			m, ok := mc.(*tg.Message)
			if !ok {
				continue
			}
			out = append(out, convertMessage(m))
			offsetID = m.ID
		}
		if len(msgs) < page || offsetID == 0 {
			break
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DownloadPhoto streams the largest size of a photo into w.
func (c *Client) DownloadPhoto(ctx context.Context, photo any, w io.Writer) error {
	loc, ok := photo.(*tg.InputPhotoFileLocation)
	if !ok {
		return fmt.Errorf("unsupported photo handle %T", photo)
	}
	if _, err := downloader.NewDownloader().Download(c.client.API(), loc).Stream(ctx, w); err != nil {
		return fmt.Errorf("failed to download photo %d: %w", loc.ID, err)
	}
	return nil
}

func historyMessages(res tg.MessagesMessagesClass) []tg.MessageClass {
	switch r := res.(type) {
	case *tg.MessagesMessages:
		return r.Messages
	case *tg.MessagesMessagesSlice:
		return r.Messages
	case *tg.MessagesChannelMessages:
		return r.Messages
	default:
		return nil
	}
}

func convertMessage(m *tg.Message) collector.SourceMessage {
	out := collector.SourceMessage{
		ID:   int64(m.ID),
		Date: time.Unix(int64(m.Date), 0).UTC(),
		Text: m.Message,
	}
	if v, ok := m.GetViews(); ok {
		out.Views = &v
	}
	if v, ok := m.GetForwards(); ok {
		out.Forwards = &v
	}
	if loc := photoLocation(m); loc != nil {
		out.Photo = loc
	}
	return out
}

// photoLocation returns the download location of the largest size of the
// message photo, or nil when the message has none.
func photoLocation(m *tg.Message) *tg.InputPhotoFileLocation {
	media, ok := m.GetMedia()
	if !ok {
		return nil
	}
	mp, ok := media.(*tg.MessageMediaPhoto)
	if !ok {
		return nil
	}
	pc, ok := mp.GetPhoto()
	if !ok {
		return nil
	}
	photo, ok := pc.(*tg.Photo)
	if !ok {
		return nil
	}
	size := largestSize(photo.Sizes)
	if size == "" {
		return nil
	}
	return &tg.InputPhotoFileLocation{
		ID:            photo.ID,
		AccessHash:    photo.AccessHash,
		FileReference: photo.FileReference,
		ThumbSize:     size,
	}
}

func largestSize(sizes []tg.PhotoSizeClass) string {
	var (
		best string
		area int
	)
	for _, s := range sizes {
		var w, h int
		switch v := s.(type) {
		case *tg.PhotoSize:
			w, h = v.W, v.H
		case *tg.PhotoSizeProgressive:
			w, h = v.W, v.H
		default:
			continue
		}
		if w*h > area {
			best, area = s.GetType(), w*h
		}
	}
	return best
}
