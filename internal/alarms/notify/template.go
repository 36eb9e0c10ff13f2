package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Alarm {{.EventLabel}}]
Device: {{.Device}}
Field: {{.Field}}
Rule: {{.Rule}}
Level: {{.Level}}
Trigger Value: {{.TriggerValue}}
Triggered At: {{.TriggeredAt}}
Current Status: {{.Status}}
{{ if .Message }}Detail: {{.Message}}
{{ end }}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Device       string
	DeviceCode   string
	Field        string
	Rule         string
	RuleID       string
	Level        string
	TriggerValue string
	TriggeredAt  string
	Status       string
	Message      string
	Event        string
	EventLabel   string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("alarm-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alarm template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
