// Package composer renders follow-up message bodies.
package composer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"leadflow_backend/internal/followup"
	"leadflow_backend/internal/leads"
)

// templateData is what message bodies can reference.
type templateData struct {
	LeadID      string
	BusinessID  string
	PhoneNumber string
}

// Composer renders template bodies with text/template. Parsed templates
// are cached by id; template configuration is immutable after startup.
type Composer struct {
	mu    sync.Mutex
	cache map[string]*template.Template
}

func New() *Composer {
	return &Composer{cache: make(map[string]*template.Template)}
}

// Render produces the outgoing text for the lead. Rendering is pure with
// respect to the lead snapshot passed in.
func (c *Composer) Render(_ context.Context, lead leads.Lead, tmpl followup.Template) (string, error) {
	parsed, err := c.parse(tmpl)
	if err != nil {
		return "", err
	}

	data := templateData{
		LeadID:     lead.ID.String(),
		BusinessID: lead.BusinessID.String(),
	}
	if lead.PhoneNumber != nil {
		data.PhoneNumber = *lead.PhoneNumber
	}

	var sb strings.Builder
	if err := parsed.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", tmpl.ID, err)
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("template %s rendered empty text", tmpl.ID)
	}
	return text, nil
}

func (c *Composer) parse(tmpl followup.Template) (*template.Template, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if parsed, ok := c.cache[tmpl.ID]; ok {
		return parsed, nil
	}

	parsed, err := template.New(tmpl.ID).Parse(tmpl.Body)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", tmpl.ID, err)
	}
	c.cache[tmpl.ID] = parsed
	return parsed, nil
}

var _ followup.Composer = (*Composer)(nil)
