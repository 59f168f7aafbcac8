package worker

import (
	"net/url"
	"strings"

	"github.com/ignite/reviewloop/internal/domain"
)

// Links builds the customer-facing URLs embedded in touches.
type Links struct {
	base string
}

// NewLinks creates a link builder rooted at the rating page.
func NewLinks(base string) Links {
	return Links{base: strings.TrimRight(base, "/")}
}

// Review returns the rating page URL for a token.
func (l Links) Review(tok string) string {
	return l.base + "?t=" + url.QueryEscape(tok)
}

// OptOut returns the opt-out page URL for a token and channel.
func (l Links) OptOut(tok string, ch domain.Channel) string {
	return l.base + "/opt-out?t=" + url.QueryEscape(tok) + "&c=" + string(ch)
}
