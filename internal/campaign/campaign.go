// Package campaign renders outreach templates for a lead and turns them
// into dispatch payloads.
//
// Templates use single-brace placeholders such as {first_name} and
// {cash_offer}. They are rewritten to Liquid variables before rendering, so
// full Liquid syntax ({{ first_name | default: "there" }}) also works.
package campaign

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/offerpage/offerpage/internal/dispatch"
	"github.com/offerpage/offerpage/internal/offer"
)

// Lead is the recipient of a campaign message.
type Lead struct {
	ID        string       `json:"id" yaml:"id"`
	FirstName string       `json:"first_name" yaml:"first_name"`
	LastName  string       `json:"last_name" yaml:"last_name"`
	Email     string       `json:"email" yaml:"email"`
	Phone     string       `json:"phone" yaml:"phone"`
	Address   string       `json:"address" yaml:"address"`
	Offer     offer.Record `json:"offer" yaml:"offer"`
}

// Template is a stored campaign message. Subject is only used for email.
type Template struct {
	ID      string           `json:"id" yaml:"id"`
	Channel dispatch.Channel `json:"channel" yaml:"channel"`
	Subject string           `json:"subject" yaml:"subject"`
	Body    string           `json:"body" yaml:"body"`
}

// Sender identifies who the message is from.
type Sender struct {
	CompanyName string `json:"company_name" yaml:"company_name"`
	AgentName   string `json:"agent_name" yaml:"agent_name"`
}

var ErrNoRecipient = errors.New("lead has no address for channel")

// placeholder matches {name} but leaves Liquid {{ ... }} and {% ... %}
// untouched by matching them first.
var placeholder = regexp.MustCompile(`\{\{.*?\}\}|\{%.*?%\}|\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// ToLiquid rewrites single-brace placeholders as Liquid variables.
func ToLiquid(tpl string) string {
	return placeholder.ReplaceAllStringFunc(tpl, func(m string) string {
		if strings.HasPrefix(m, "{{") || strings.HasPrefix(m, "{%") {
			return m
		}
		return "{{ " + m[1:len(m)-1] + " }}"
	})
}

// Renderer renders templates. Parsed templates are cached by source text.
type Renderer struct {
	engine *liquid.Engine
	sender Sender
	cache  sync.Map // map[string]*liquid.Template
}

func NewRenderer(sender Sender) *Renderer {
	r := &Renderer{engine: liquid.NewEngine(), sender: sender}
	r.registerFilters()
	return r
}

func (r *Renderer) registerFilters() {
	// {{ 250000 | money }} -> $250,000
	r.engine.RegisterFilter("money", func(v float64) string {
		return offer.FormatForTemplate(offer.FixedRecord(v))
	})
}

// Bindings returns the variables available to templates for lead.
func (r *Renderer) Bindings(lead Lead) map[string]any {
	return map[string]any{
		"first_name":   lead.FirstName,
		"last_name":    lead.LastName,
		"email":        lead.Email,
		"phone":        lead.Phone,
		"address":      lead.Address,
		"cash_offer":   offer.FormatForTemplate(lead.Offer),
		"company_name": r.sender.CompanyName,
		"agent_name":   r.sender.AgentName,
	}
}

// Render renders tpl with vars. Unknown variables render as empty.
func (r *Renderer) Render(tpl string, vars map[string]any) (string, error) {
	src := ToLiquid(tpl)

	var t *liquid.Template
	if cached, ok := r.cache.Load(src); ok {
		t = cached.(*liquid.Template)
	} else {
		parsed, err := r.engine.ParseString(src)
		if err != nil {
			return "", fmt.Errorf("parse template: %w", err)
		}
		r.cache.Store(src, parsed)
		t = parsed
	}

	out, err := t.RenderString(vars)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// Build renders tpl for lead and addresses it by channel: email goes to the
// lead's email, sms and voice to the phone.
func (r *Renderer) Build(lead Lead, tpl Template) (dispatch.Payload, error) {
	if !tpl.Channel.Valid() {
		return dispatch.Payload{}, fmt.Errorf("template %s: unknown channel %q", tpl.ID, tpl.Channel)
	}

	to := lead.Phone
	if tpl.Channel == dispatch.ChannelEmail {
		to = lead.Email
	}
	if to == "" {
		return dispatch.Payload{}, fmt.Errorf("lead %s: %w %s", lead.ID, ErrNoRecipient, tpl.Channel)
	}

	vars := r.Bindings(lead)
	body, err := r.Render(tpl.Body, vars)
	if err != nil {
		return dispatch.Payload{}, fmt.Errorf("template %s body: %w", tpl.ID, err)
	}

	var subject string
	if tpl.Channel == dispatch.ChannelEmail {
		if subject, err = r.Render(tpl.Subject, vars); err != nil {
			return dispatch.Payload{}, fmt.Errorf("template %s subject: %w", tpl.ID, err)
		}
	}

	return dispatch.Payload{
		Channel:    tpl.Channel,
		To:         to,
		Subject:    subject,
		Body:       body,
		LeadID:     lead.ID,
		CampaignID: tpl.ID,
	}, nil
}
