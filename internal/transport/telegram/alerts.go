// Package telegram delivers log alerts to a Telegram chat through the Bot API.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "tgscraper/pkg/logx"
)

const textLimit = 4096

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int

	// APIURL overrides the Bot API endpoint (tests, local bot servers).
	APIURL  string
	Timeout time.Duration
}

// Alerter implements logx.Sender.
type Alerter struct {
	cfg  Config
	bot  *tele.Bot
	chat *tele.Chat
}

var _ logx.Sender = (*Alerter)(nil)

// New builds an offline bot: it never polls for updates and does not call
// getMe, so startup works without network access.
func New(cfg Config) (*Alerter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram alert chat id is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Offline: true,
		Client:  newHTTPClient(timeout),
	})
	if err != nil {
		return nil, err
	}
	return &Alerter{cfg: cfg, bot: b, chat: &tele.Chat{ID: cfg.ChatID}}, nil
}

// SendAlert sends text, split into Telegram-sized chunks.
func (a *Alerter) SendAlert(ctx context.Context, text string) error {
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		opts := &tele.SendOptions{
			DisableWebPagePreview: true,
			ThreadID:              a.cfg.ThreadID,
		}
		if _, err := a.bot.Send(a.chat, chunk, opts); err != nil {
			return err
		}
	}
	return nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// splitText cuts s into chunks of at most limit runes, preferring newlines.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
