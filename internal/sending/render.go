package sending

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ignite/reviewloop/internal/domain"
	"github.com/osteele/liquid"
)

// RenderData is what a touch template can reference.
type RenderData struct {
	FirstName    string
	LastName     string
	BusinessName string
	ReviewURL    string
	OptOutURL    string
	TouchNumber  int
}

func (d RenderData) bindings() liquid.Bindings {
	return liquid.Bindings{
		"first_name":    d.FirstName,
		"last_name":     d.LastName,
		"business_name": d.BusinessName,
		"review_url":    d.ReviewURL,
		"opt_out_url":   d.OptOutURL,
		"touch_number":  d.TouchNumber,
	}
}

// Renderer turns a campaign touch into message text.
type Renderer interface {
	Render(campaignID string, touch domain.Touch, data RenderData) (subject, body string, err error)
}

const (
	defaultEmailSubject = `How did we do, {{ first_name | default: "there" }}?`
	defaultEmailBody    = `Hi {{ first_name | default: "there" }},

Thanks for choosing {{ business_name }}. Would you take a moment to tell us how it went?

{{ review_url }}

Don't want these emails? {{ opt_out_url }}`
	defaultSMSBody = `Hi {{ first_name | default: "there" }}, thanks for choosing {{ business_name }}! How did we do? {{ review_url }} Reply STOP to opt out.`
)

// LiquidRenderer renders touch subjects and bodies as Liquid templates.
// Parsed templates are cached per campaign, touch, and field.
type LiquidRenderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewLiquidRenderer creates a renderer.
func NewLiquidRenderer() *LiquidRenderer {
	engine := liquid.NewEngine()
	engine.RegisterFilter("first_word", func(s string) string {
		if f := strings.Fields(s); len(f) > 0 {
			return f[0]
		}
		return s
	})
	return &LiquidRenderer{engine: engine}
}

// Render renders the touch, falling back to built-in copy for empty fields.
func (r *LiquidRenderer) Render(campaignID string, touch domain.Touch, data RenderData) (string, string, error) {
	bindings := data.bindings()

	bodySrc := touch.Body
	if strings.TrimSpace(bodySrc) == "" {
		bodySrc = defaultEmailBody
		if touch.Channel == domain.ChannelSMS {
			bodySrc = defaultSMSBody
		}
	}
	body, err := r.render(fmt.Sprintf("%s:%d:body", campaignID, touch.TouchNumber), bodySrc, bindings)
	if err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}
	if touch.Channel == domain.ChannelSMS {
		return "", body, nil
	}

	subjectSrc := touch.Subject
	if strings.TrimSpace(subjectSrc) == "" {
		subjectSrc = defaultEmailSubject
	}
	subject, err := r.render(fmt.Sprintf("%s:%d:subject", campaignID, touch.TouchNumber), subjectSrc, bindings)
	if err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}
	return strings.TrimSpace(subject), body, nil
}

func (r *LiquidRenderer) render(key, src string, bindings liquid.Bindings) (string, error) {
	// The key includes the source so edited campaigns don't hit stale entries.
	key = key + ":" + src
	if cached, ok := r.cache.Load(key); ok {
		return cached.(*liquid.Template).RenderString(bindings)
	}
	tpl, err := r.engine.ParseString(src)
	if err != nil {
		return "", err
	}
	r.cache.Store(key, tpl)
	return tpl.RenderString(bindings)
}
