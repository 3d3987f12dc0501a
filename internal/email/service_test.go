package email

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	sent []*Email
	err  error
}

func (c *captureSender) Send(_ context.Context, email *Email) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.sent = append(c.sent, email)
	return "msg-1", nil
}

func TestService_Send(t *testing.T) {
	sender := &captureSender{}
	svc := NewService(sender, "orders@example.com", "Example Roasters")

	err := svc.Send(context.Background(), "ada@example.com", "Order shipped",
		"Your order is on its way.\n\nTracking: 1Z999 & more")
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	assert.Equal(t, []string{"ada@example.com"}, msg.To)
	assert.Equal(t, "Example Roasters <orders@example.com>", msg.From)
	assert.Equal(t, "Order shipped", msg.Subject)
	assert.Contains(t, msg.HTMLBody, "<p>Your order is on its way.</p>")
	assert.Contains(t, msg.HTMLBody, "Tracking: 1Z999 &amp; more")
	assert.Contains(t, msg.TextBody, "Tracking: 1Z999 & more")
	assert.NotContains(t, msg.TextBody, "<p>")
}

func TestService_SendWithoutFromName(t *testing.T) {
	sender := &captureSender{}
	svc := NewService(sender, "orders@example.com", "")

	require.NoError(t, svc.Send(context.Background(), "ada@example.com", "Hi", "Body"))
	assert.Equal(t, "orders@example.com", sender.sent[0].From)
}

func TestService_SendErrors(t *testing.T) {
	t.Run("missing recipient", func(t *testing.T) {
		svc := NewService(&captureSender{}, "orders@example.com", "")
		err := svc.Send(context.Background(), "  ", "Hi", "Body")
		assert.ErrorIs(t, err, ErrInvalidToAddress)
	})

	t.Run("sender failure", func(t *testing.T) {
		boom := errors.New("connection refused")
		svc := NewService(&captureSender{err: boom}, "orders@example.com", "")
		err := svc.Send(context.Background(), "ada@example.com", "Hi", "Body")
		assert.ErrorIs(t, err, boom)
	})
}

func TestGeneratePlainText(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		contains []string
		excludes []string
	}{
		{
			name:     "simple paragraph",
			html:     "<p>Hello, World!</p>",
			contains: []string{"Hello, World!"},
			excludes: []string{"<p>", "</p>"},
		},
		{
			name:     "line breaks",
			html:     "Line 1<br>Line 2<br/>Line 3<br />Line 4",
			contains: []string{"Line 1", "Line 2", "Line 3", "Line 4"},
			excludes: []string{"<br>", "<br/>", "<br />"},
		},
		{
			name:     "headings",
			html:     "<h1>Title</h1><h2>Subtitle</h2><h3>Section</h3>",
			contains: []string{"Title", "Subtitle", "Section"},
			excludes: []string{"<h1>", "</h1>", "<h2>", "</h2>", "<h3>", "</h3>"},
		},
		{
			name:     "nested tags",
			html:     "<div><p><strong>Bold text</strong> and <em>italic</em></p></div>",
			contains: []string{"Bold text", "and", "italic"},
			excludes: []string{"<div>", "<p>", "<strong>", "<em>"},
		},
		{
			name:     "HTML entities",
			html:     "Price: $10 &amp; shipping &nbsp; included &lt;$5&gt; &quot;free&quot;",
			contains: []string{"Price: $10 & shipping", "included <$5>", "\"free\""},
			excludes: []string{"&amp;", "&nbsp;", "&lt;", "&gt;", "&quot;"},
		},
		{
			name:     "links stripped",
			html:     `<a href="https://example.com">Click here</a>`,
			contains: []string{"Click here"},
			excludes: []string{"<a", "href", "</a>"},
		},
		{
			name:     "empty content",
			html:     "",
			contains: []string{},
			excludes: []string{},
		},
		{
			name: "order email structure",
			html: `
				<div class="email-content">
					<h2>Your order has shipped</h2>
					<p>Order 1234 is on its way.</p>
					<p>Track it <a href="https://example.com/track">here</a>.</p>
				</div>
			`,
			contains: []string{"Your order has shipped", "Order 1234 is on its way", "here"},
			excludes: []string{"<div", "<h2>", "<p>", "<a href"},
		},
		{
			name:     "template escaped quotes",
			html:     "<p>We&#39;ve refunded &#34;Beans&#34;</p>",
			contains: []string{"We've refunded \"Beans\""},
			excludes: []string{"&#39;", "&#34;"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := generatePlainText(tt.html)

			for _, want := range tt.contains {
				if !strings.Contains(result, want) {
					t.Errorf("generatePlainText() result should contain %q, got: %q", want, result)
				}
			}

			for _, exclude := range tt.excludes {
				if strings.Contains(result, exclude) {
					t.Errorf("generatePlainText() result should not contain %q, got: %q", exclude, result)
				}
			}
		})
	}
}

func TestGeneratePlainText_WhitespaceHandling(t *testing.T) {
	html := `
		<p>   Line with spaces   </p>
		<p></p>
		<p>Another line</p>
	`

	result := generatePlainText(html)

	// Should not have empty lines (they get filtered)
	lines := strings.Split(result, "\n")
	for _, line := range lines {
		if strings.TrimSpace(line) == "" && line != "" {
			t.Error("generatePlainText() should not have blank lines with only whitespace")
		}
	}

	// Should contain the actual content
	if !strings.Contains(result, "Line with spaces") {
		t.Error("generatePlainText() should contain trimmed content")
	}
	if !strings.Contains(result, "Another line") {
		t.Error("generatePlainText() should contain 'Another line'")
	}
}
