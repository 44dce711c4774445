package email

import (
	"bytes"
	"fmt"
	"html/template"
)

const layoutHead = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Heading}}</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; margin: 0; padding: 0; background-color: #0a0a14;">
<table role="presentation" style="width: 100%; border: 0; cellpadding: 0; cellspacing: 0;">
<tr><td style="padding: 40px 0; text-align: center;">
<table role="presentation" style="max-width: 480px; margin: 0 auto; background: #ffffff; border-radius: 8px; overflow: hidden;">
<tr><td style="padding: 32px 40px; text-align: center;">
<h1 style="margin: 0 0 16px; font-size: 24px; color: #1a1a1a;">{{.Heading}}</h1>
`

const layoutFoot = `</td></tr>
</table>
</td></tr>
</table>
</body>
</html>`

var projectCompletedTemplate = template.Must(template.New("project_completed").Parse(layoutHead + `<p style="margin: 0 0 24px; color: #666; font-size: 15px; line-height: 1.5;">
Your karaoke track <strong>{{.Title}}</strong> is ready.
</p>
<a href="{{.ProjectURL}}" style="display: inline-block; padding: 12px 32px; background: #7c3aed; color: #ffffff; text-decoration: none; border-radius: 6px; font-size: 15px; font-weight: 500;">
Download
</a>
` + layoutFoot))

var projectFailedTemplate = template.Must(template.New("project_failed").Parse(layoutHead + `<p style="margin: 0 0 16px; color: #666; font-size: 15px; line-height: 1.5;">
We could not finish <strong>{{.Title}}</strong>.
</p>
{{if .Reason}}<p style="margin: 0 0 16px; color: #999; font-size: 13px;">{{.Reason}}</p>{{end}}
<p style="margin: 0 0 24px; color: #666; font-size: 15px; line-height: 1.5;">
Credits used for this job are not refunded automatically. Reply to this email if you would like us to take a look.
</p>
<a href="{{.ProjectURL}}" style="display: inline-block; padding: 12px 32px; background: #7c3aed; color: #ffffff; text-decoration: none; border-radius: 6px; font-size: 15px; font-weight: 500;">
View project
</a>
` + layoutFoot))

// ProjectEmailData holds template data for project notifications.
type ProjectEmailData struct {
	Heading    string
	Title      string
	ProjectURL string
	Reason     string
}

func RenderProjectCompletedEmail(data ProjectEmailData) (subject, html, text string, err error) {
	data.Heading = "Your karaoke track is ready"
	var buf bytes.Buffer
	if err := projectCompletedTemplate.Execute(&buf, data); err != nil {
		return "", "", "", fmt.Errorf("render project completed template: %w", err)
	}

	subject = fmt.Sprintf("%q is ready", data.Title)
	text = fmt.Sprintf("Your karaoke track %q is ready.\n\nDownload it here: %s", data.Title, data.ProjectURL)
	return subject, buf.String(), text, nil
}

func RenderProjectFailedEmail(data ProjectEmailData) (subject, html, text string, err error) {
	data.Heading = "Processing failed"
	var buf bytes.Buffer
	if err := projectFailedTemplate.Execute(&buf, data); err != nil {
		return "", "", "", fmt.Errorf("render project failed template: %w", err)
	}

	subject = fmt.Sprintf("We could not finish %q", data.Title)
	text = fmt.Sprintf("We could not finish %q.\n\n", data.Title)
	if data.Reason != "" {
		text += "Reason: " + data.Reason + "\n\n"
	}
	text += "Credits used for this job are not refunded automatically. Reply to this email if you would like us to take a look.\n\n" + data.ProjectURL
	return subject, buf.String(), text, nil
}
