package scrape

import (
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"tgscraper/internal/storage"
)

const (
	messageSelector = ".tgme_widget_message[data-post]"
	textSelector    = ".tgme_widget_message_text"
	timeSelector    = ".tgme_widget_message_date time"
	viewsSelector   = ".tgme_widget_message_views"
)

// parseMessage turns one preview message element into a post.
// ok is false when the element carries no usable post id.
func parseMessage(e *colly.HTMLElement, scrapedAt time.Time) (storage.Post, bool) {
	id, channel, ok := parseDataPost(e.Attr("data-post"))
	if !ok {
		return storage.Post{}, false
	}
	p := storage.Post{
		Channel:   channel,
		ID:        id,
		Text:      strings.TrimSpace(e.ChildText(textSelector)),
		Views:     strings.TrimSpace(e.ChildText(viewsSelector)),
		ScrapedAt: scrapedAt,
	}
	if raw := e.ChildAttr(timeSelector, "datetime"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			p.Date = t.UTC()
		}
	}
	return p, true
}

// parseDataPost splits "channel/123".
func parseDataPost(raw string) (int64, string, bool) {
	raw = strings.TrimSpace(raw)
	i := strings.LastIndexByte(raw, '/')
	if i <= 0 || i == len(raw)-1 {
		return 0, "", false
	}
	id, err := strconv.ParseInt(raw[i+1:], 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	return id, raw[:i], true
}

func oldestID(posts []storage.Post) int64 {
	var oldest int64
	for _, p := range posts {
		if oldest == 0 || p.ID < oldest {
			oldest = p.ID
		}
	}
	return oldest
}
