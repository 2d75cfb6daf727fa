// Package notify delivers account emails (verification codes and password
// reset tokens) through a pluggable transport.
//
// Delivery is fire-and-forget: callers enqueue on a Dispatcher and never see
// transport errors, which are logged and counted instead.
package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"text/template"
	"time"
)

// Message kinds, also used as metric labels.
const (
	KindVerification  = "verification"
	KindPasswordReset = "password_reset"
)

// Message is one rendered email.
type Message struct {
	Kind    string `json:"kind"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html,omitempty"`
}

type templateData struct {
	Product string
	Secret  string
	Expiry  string
	Link    string
}

const productName = "IncidentDesk"

var (
	verificationText = template.Must(template.New("verification.txt").Parse(
		`Thanks for registering with {{.Product}}.

Your verification code is: {{.Secret}}

The code expires in {{.Expiry}}.

If you didn't create an account, please ignore this email.
`))

	verificationHTML = htmltemplate.Must(htmltemplate.New("verification.html").Parse(
		`<html><body>
<h2>Verify your email</h2>
<p>Thanks for registering with {{.Product}}.</p>
<p>Your verification code is:</p>
<h3>{{.Secret}}</h3>
<p>The code expires in {{.Expiry}}.</p>
<p>If you didn't create an account, please ignore this email.</p>
</body></html>
`))

	resetText = template.Must(template.New("reset.txt").Parse(
		`You requested a password reset for your {{.Product}} account.

Your reset token is: {{.Secret}}
{{if .Link}}
Or open: {{.Link}}
{{end}}
This token expires in {{.Expiry}}.

If you didn't request a password reset, please ignore this email.
`))

	resetHTML = htmltemplate.Must(htmltemplate.New("reset.html").Parse(
		`<html><body>
<h2>Password reset request</h2>
<p>You requested a password reset for your {{.Product}} account.</p>
<p>Your reset token is:</p>
<h3>{{.Secret}}</h3>
{{if .Link}}<p><a href="{{.Link}}">Reset your password</a></p>{{end}}
<p>This token expires in {{.Expiry}}.</p>
<p>If you didn't request a password reset, please ignore this email.</p>
</body></html>
`))
)

// VerificationMessage renders the email carrying a verification code.
func VerificationMessage(to, code string, ttl time.Duration) (Message, error) {
	data := templateData{Product: productName, Secret: code, Expiry: humanDuration(ttl)}
	return render(KindVerification, to, "Verify your email", data, verificationText, verificationHTML)
}

// PasswordResetMessage renders the email carrying a reset token. When
// baseURL is set the email also links to {baseURL}/reset-password?token=.
func PasswordResetMessage(to, token, baseURL string, ttl time.Duration) (Message, error) {
	data := templateData{Product: productName, Secret: token, Expiry: humanDuration(ttl)}
	if baseURL != "" {
		data.Link = baseURL + "/reset-password?token=" + token
	}
	return render(KindPasswordReset, to, "Password Reset", data, resetText, resetHTML)
}

func render(kind, to, subject string, data templateData, text *template.Template, html *htmltemplate.Template) (Message, error) {
	var tb, hb bytes.Buffer
	if err := text.Execute(&tb, data); err != nil {
		return Message{}, fmt.Errorf("rendering %s text: %w", kind, err)
	}
	if err := html.Execute(&hb, data); err != nil {
		return Message{}, fmt.Errorf("rendering %s html: %w", kind, err)
	}
	return Message{Kind: kind, To: to, Subject: subject, Text: tb.String(), HTML: hb.String()}, nil
}

// humanDuration renders 24h as "24 hours" and 1h as "1 hour".
func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		if h := int(d / time.Hour); h != 1 {
			return fmt.Sprintf("%d hours", h)
		}
		return "1 hour"
	case d >= time.Minute && d%time.Minute == 0:
		if m := int(d / time.Minute); m != 1 {
			return fmt.Sprintf("%d minutes", m)
		}
		return "1 minute"
	default:
		return d.String()
	}
}
