package prompts

import (
	"bytes"
	_ "embed"
	"fmt"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed emails.yaml
var emailsYAML []byte

// Email template names.
const (
	EmailMeetingRequest = "meeting_request"
	EmailClarification  = "clarification"
	EmailConfirmation   = "confirmation"
)

// EmailData is the data available to every email template.
type EmailData struct {
	Name    string
	Subject string
	Options string
	Date    string
	Time    string
}

type emailTemplate struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

var (
	emailsOnce sync.Once
	emails     map[string]emailTemplate
	emailsErr  error
)

func loadEmails() (map[string]emailTemplate, error) {
	emailsOnce.Do(func() {
		emailsErr = yaml.Unmarshal(emailsYAML, &emails)
		if emailsErr != nil {
			emailsErr = fmt.Errorf("parse emails.yaml: %w", emailsErr)
		}
	})
	return emails, emailsErr
}

// RenderEmail returns the subject and body of the named template.
func RenderEmail(name string, data EmailData) (subject, body string, err error) {
	all, err := loadEmails()
	if err != nil {
		return "", "", err
	}
	tmpl, ok := all[name]
	if !ok {
		return "", "", fmt.Errorf("unknown email template %q", name)
	}
	if subject, err = execute(name+".subject", tmpl.Subject, data); err != nil {
		return "", "", err
	}
	if body, err = execute(name+".body", tmpl.Body, data); err != nil {
		return "", "", err
	}
	return subject, body, nil
}

func execute(name, text string, data EmailData) (string, error) {
	t, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
