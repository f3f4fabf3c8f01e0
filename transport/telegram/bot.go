// Package telegram implements transport.Transport over the Telegram Bot API
// using long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/pithecene-io/coalesce/iox"
	"github.com/pithecene-io/coalesce/log"
	"github.com/pithecene-io/coalesce/transport"
	"github.com/pithecene-io/coalesce/types"
)

// DefaultPollTimeout is the long-poll timeout in seconds.
const DefaultPollTimeout = 30

const (
	// requestGrace is allowed past the long-poll timeout for getUpdates.
	requestGrace = 15 * time.Second
	// transferTimeout bounds document uploads and file downloads.
	transferTimeout = 10 * time.Minute
)

// Config configures a Bot.
type Config struct {
	// Token is the bot token issued by BotFather.
	Token string
	// Endpoint overrides the API endpoint format string
	// (default tgbotapi.APIEndpoint).
	Endpoint string
	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int
	// Debug logs raw API traffic through the library logger.
	Debug bool
	// HTTPClient is used for API calls and file downloads.
	HTTPClient *http.Client
}

// StatusError is returned when a file download responds with a non-2xx
// status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("file download returned status %d", e.StatusCode)
}

// Bot is a Telegram transport and event source.
type Bot struct {
	api         *tgbotapi.BotAPI
	http        *http.Client
	pollTimeout int
	logger      *log.Logger
	now         func() time.Time
}

var _ transport.Transport = (*Bot)(nil)

// New connects to the Bot API and verifies the token.
func New(cfg Config, logger *log.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is required")
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: clientTimeout(pollTimeout)}
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	api.Debug = cfg.Debug

	logger.Info("telegram bot connected", map[string]any{
		"username": api.Self.UserName,
	})

	return &Bot{
		api:         api,
		http:        client,
		pollTimeout: pollTimeout,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// clientTimeout covers the slower of a full long poll and a file transfer.
// The same client serves getUpdates, sendDocument and downloads.
func clientTimeout(pollTimeout int) time.Duration {
	return max(time.Duration(pollTimeout)*time.Second+requestGrace, transferTimeout)
}

// Username returns the bot's username.
func (b *Bot) Username() string {
	return b.api.Self.UserName
}

// Poll receives updates until ctx is cancelled, handing each recognized
// event to dispatch. dispatch must not block.
func (b *Bot) Poll(ctx context.Context, dispatch func(transport.Event)) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return errors.New("telegram update channel closed")
			}
			ev, ok := Translate(update, b.now())
			if !ok {
				b.logger.Debug("ignoring update", map[string]any{"update_id": update.UpdateID})
				continue
			}
			dispatch(ev)
		}
	}
}

// SendText implements transport.Transport.
func (b *Bot) SendText(ctx context.Context, chatID int64, text string, opts ...transport.SendOption) (types.MessageHandle, error) {
	if err := ctx.Err(); err != nil {
		return types.MessageHandle{}, err
	}
	o := transport.ResolveOptions(opts...)

	msg := tgbotapi.NewMessage(chatID, text)
	if o.Markdown {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}
	if len(o.Buttons) > 0 {
		msg.ReplyMarkup = keyboard(o.Buttons)
	}

	sent, err := b.api.Send(msg)
	if err != nil {
		return types.MessageHandle{}, fmt.Errorf("send message: %w", err)
	}
	return types.MessageHandle{ChatID: chatID, MessageID: sent.MessageID}, nil
}

// EditText implements transport.Transport.
func (b *Bot) EditText(ctx context.Context, h types.MessageHandle, text string, opts ...transport.SendOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o := transport.ResolveOptions(opts...)

	var edit tgbotapi.EditMessageTextConfig
	if len(o.Buttons) > 0 {
		edit = tgbotapi.NewEditMessageTextAndMarkup(h.ChatID, h.MessageID, text, keyboard(o.Buttons))
	} else {
		edit = tgbotapi.NewEditMessageText(h.ChatID, h.MessageID, text)
	}
	if o.Markdown {
		edit.ParseMode = tgbotapi.ModeMarkdown
	}

	if _, err := b.api.Request(edit); err != nil {
		return fmt.Errorf("edit message %d: %w", h.MessageID, err)
	}
	return nil
}

// DeleteMessage implements transport.Transport.
func (b *Bot) DeleteMessage(ctx context.Context, h types.MessageHandle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(h.ChatID, h.MessageID)); err != nil {
		return fmt.Errorf("delete message %d: %w", h.MessageID, err)
	}
	return nil
}

// SendArtifact implements transport.Transport.
func (b *Bot) SendArtifact(ctx context.Context, chatID int64, name string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileReader{Name: name, Reader: r})
	if _, err := b.api.Send(doc); err != nil {
		return fmt.Errorf("send document %s: %w", name, err)
	}
	return nil
}

// Acknowledge implements transport.Transport.
func (b *Bot) Acknowledge(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

// Fetch implements transport.Transport.
func (b *Bot) Fetch(ctx context.Context, file transport.FileRef) (io.ReadCloser, error) {
	url, err := b.api.GetFileDirectURL(file.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve file %s: %w", file.Name, err)
	}
	return download(ctx, b.http, url)
}

func download(ctx context.Context, client *http.Client, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		iox.DiscardClose(resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}

func keyboard(buttons []transport.Button) tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, len(buttons))
	for i, btn := range buttons {
		row[i] = tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.Data)
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}
