package composer

import (
	"context"
	"strings"
	"testing"

	"leadflow_backend/internal/followup"
	"leadflow_backend/internal/leads"

	"github.com/google/uuid"
)

func TestRenderPlainBody(t *testing.T) {
	c := New()
	lead := leads.Lead{ID: uuid.New(), BusinessID: uuid.New()}

	got, err := c.Render(context.Background(), lead, followup.Template{
		ID:   "plain",
		Body: "Could you share a phone number?",
	})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if got != "Could you share a phone number?" {
		t.Fatalf("unexpected text: %q", got)
	}
}

func TestRenderSubstitutesPhoneNumber(t *testing.T) {
	c := New()
	number := "+12125550171"
	lead := leads.Lead{ID: uuid.New(), BusinessID: uuid.New(), PhoneKnown: true, PhoneNumber: &number}

	got, err := c.Render(context.Background(), lead, followup.Template{
		ID:   "with-phone",
		Body: "We will call you at {{.PhoneNumber}} shortly.",
	})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !strings.Contains(got, number) {
		t.Fatalf("expected phone number in text, got %q", got)
	}
}

func TestRenderTrimsWhitespace(t *testing.T) {
	c := New()

	got, err := c.Render(context.Background(), leads.Lead{}, followup.Template{
		ID:   "padded",
		Body: "\n  hello there  \n",
	})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if got != "hello there" {
		t.Fatalf("expected trimmed text, got %q", got)
	}
}

func TestRenderEmptyResultErrors(t *testing.T) {
	c := New()

	if _, err := c.Render(context.Background(), leads.Lead{}, followup.Template{ID: "empty", Body: "   "}); err == nil {
		t.Fatal("expected error for empty rendered text")
	}
}

func TestRenderInvalidTemplateErrors(t *testing.T) {
	c := New()

	if _, err := c.Render(context.Background(), leads.Lead{}, followup.Template{ID: "broken", Body: "{{.Unclosed"}); err == nil {
		t.Fatal("expected parse error")
	}
}
