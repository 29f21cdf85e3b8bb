// Package render performs Liquid template rendering for campaign
// personalization. Parsed templates are cached so the per-recipient
// cost inside a send loop is bind-only.
package render

import (
	"fmt"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// Renderer renders Liquid templates with recipient merge variables.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // template source -> *liquid.Template
}

// NewRenderer creates a renderer with the standard filters plus a
// `default` filter for missing merge fields:
//
//	Hello {{ first_name | default: "Friend" }}
func NewRenderer() *Renderer {
	engine := liquid.NewEngine()

	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		strVal := fmt.Sprintf("%v", value)
		if strVal == "" || strVal == "<nil>" {
			return defaultVal
		}
		return value
	})

	return &Renderer{engine: engine}
}

// Render renders a single template against the given variables.
func (r *Renderer) Render(source string, vars map[string]any) (string, error) {
	tmpl, err := r.parse(source)
	if err != nil {
		return "", err
	}
	out, err := tmpl.RenderString(vars)
	if err != nil {
		return "", fmt.Errorf("rendering template: %w", err)
	}
	return out, nil
}

func (r *Renderer) parse(source string) (*liquid.Template, error) {
	if cached, ok := r.cache.Load(source); ok {
		return cached.(*liquid.Template), nil
	}
	tmpl, err := r.engine.ParseString(source)
	if err != nil {
		return nil, fmt.Errorf("parsing template: %w", err)
	}
	r.cache.Store(source, tmpl)
	return tmpl, nil
}

// Rendered holds the personalized content for one recipient.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// Email renders subject, HTML, and text templates for one recipient.
// An empty text template renders to empty rather than erroring.
func (r *Renderer) Email(subject, html, text string, recipient domain.Recipient) (*Rendered, error) {
	vars := recipient.MergeVars()

	out := &Rendered{}
	var err error
	if out.Subject, err = r.Render(subject, vars); err != nil {
		return nil, fmt.Errorf("subject: %w", err)
	}
	if out.HTML, err = r.Render(html, vars); err != nil {
		return nil, fmt.Errorf("html body: %w", err)
	}
	if text != "" {
		if out.Text, err = r.Render(text, vars); err != nil {
			return nil, fmt.Errorf("text body: %w", err)
		}
	}
	return out, nil
}
