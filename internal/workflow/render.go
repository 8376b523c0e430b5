package workflow

import (
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"workflow-service/internal/model"

	"github.com/Masterminds/sprig/v3"
)

type renderedEmail struct {
	To      string
	Subject string
	HTML    string
}

// emailTemplates are the parsed templates of one SEND_EMAIL action
type emailTemplates struct {
	to      *texttemplate.Template
	subject *texttemplate.Template
	body    *htmltemplate.Template
}

// parseEmail parses the templates of a SEND_EMAIL action. Templates only get
// the hermetic sprig functions: tenants write them, so nothing that reads the
// process environment or the filesystem may be reachable.
func parseEmail(a model.SendEmailAction) (*emailTemplates, error) {
	to, err := parseText("to", a.To)
	if err != nil {
		return nil, err
	}
	subject, err := parseText("subject", a.Subject)
	if err != nil {
		return nil, err
	}
	body, err := htmltemplate.New("body").
		Funcs(sprig.HermeticHtmlFuncMap()).
		Option("missingkey=error").
		Parse(a.Body)
	if err != nil {
		return nil, err
	}
	return &emailTemplates{to: to, subject: subject, body: body}, nil
}

func parseText(name, text string) (*texttemplate.Template, error) {
	return texttemplate.New(name).
		Funcs(sprig.HermeticTxtFuncMap()).
		Option("missingkey=error").
		Parse(text)
}

// renderEmail expands the templates of a SEND_EMAIL action against the
// entity snapshot. Snapshot values are HTML-escaped in the body. A reference
// to a missing field is an error rather than an empty string.
func renderEmail(a model.SendEmailAction, snapshot map[string]any) (renderedEmail, error) {
	tmpl, err := parseEmail(a)
	if err != nil {
		return renderedEmail{}, err
	}

	var to, subject, html strings.Builder
	if err := tmpl.to.Execute(&to, snapshot); err != nil {
		return renderedEmail{}, err
	}
	if err := tmpl.subject.Execute(&subject, snapshot); err != nil {
		return renderedEmail{}, err
	}
	if err := tmpl.body.Execute(&html, snapshot); err != nil {
		return renderedEmail{}, err
	}

	return renderedEmail{To: strings.TrimSpace(to.String()), Subject: subject.String(), HTML: html.String()}, nil
}
