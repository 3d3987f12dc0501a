package email

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"strings"
)

//go:embed layout.html
var layoutHTML string

var layout = template.Must(template.New("email_layout").Parse(layoutHTML))

// Service composes notification emails and hands them to a Sender.
// It satisfies domain.EmailSender.
type Service struct {
	sender      Sender
	fromAddress string
	fromName    string
}

// NewService creates a new email service
func NewService(sender Sender, fromAddress, fromName string) *Service {
	return &Service{
		sender:      sender,
		fromAddress: fromAddress,
		fromName:    fromName,
	}
}

type layoutData struct {
	Subject    string
	FromName   string
	Paragraphs []string
}

// Send renders body into the HTML layout and sends it with a plain text
// alternative. Blank lines in body separate paragraphs.
func (s *Service) Send(ctx context.Context, to, subject, body string) error {
	if strings.TrimSpace(to) == "" {
		return ErrInvalidToAddress
	}

	htmlBody, textBody, err := s.render(subject, body)
	if err != nil {
		return fmt.Errorf("failed to render email: %w", err)
	}

	from := s.fromAddress
	if s.fromName != "" {
		from = fmt.Sprintf("%s <%s>", s.fromName, s.fromAddress)
	}

	email := &Email{
		To:       []string{to},
		From:     from,
		Subject:  subject,
		HTMLBody: htmlBody,
		TextBody: textBody,
	}

	if _, err := s.sender.Send(ctx, email); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// render executes the layout and derives the plain text part from the result.
func (s *Service) render(subject, body string) (string, string, error) {
	data := layoutData{
		Subject:    subject,
		FromName:   s.fromName,
		Paragraphs: paragraphs(body),
	}

	var buf bytes.Buffer
	if err := layout.Execute(&buf, data); err != nil {
		return "", "", err
	}
	htmlBody := buf.String()

	return htmlBody, generatePlainText(htmlBody), nil
}

func paragraphs(body string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// generatePlainText creates a simple plain text version from HTML
func generatePlainText(html string) string {
	text := html

	text = strings.ReplaceAll(text, "<br>", "\n")
	text = strings.ReplaceAll(text, "<br/>", "\n")
	text = strings.ReplaceAll(text, "<br />", "\n")
	text = strings.ReplaceAll(text, "</p>", "\n\n")
	text = strings.ReplaceAll(text, "</div>", "\n")
	text = strings.ReplaceAll(text, "</h1>", "\n\n")
	text = strings.ReplaceAll(text, "</h2>", "\n\n")
	text = strings.ReplaceAll(text, "</h3>", "\n\n")

	for strings.Contains(text, "<") && strings.Contains(text, ">") {
		start := strings.Index(text, "<")
		end := strings.Index(text, ">")
		if start >= 0 && end > start {
			text = text[:start] + text[end+1:]
		} else {
			break
		}
	}

	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = strings.ReplaceAll(text, "&quot;", "\"")
	text = strings.ReplaceAll(text, "&#34;", "\"")
	text = strings.ReplaceAll(text, "&#39;", "'")

	lines := strings.Split(text, "\n")
	var cleaned []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}

	return strings.Join(cleaned, "\n")
}
