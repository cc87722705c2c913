package usecase

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"go.uber.org/zap"

	"github.com/arklim/department-iam/internal/core/domain"
	"github.com/arklim/department-iam/internal/core/port"
	"github.com/arklim/department-iam/internal/infra/logger"
)

// Mail template names.
const (
	TemplateConfirmation          = "confirmation"
	TemplateTwoFactorCode         = "two_factor_code"
	TemplateAuthenticatorSetup    = "authenticator_setup"
	TemplateAuthenticatorEnabled  = "authenticator_enabled"
	TemplateAuthenticatorDisabled = "authenticator_disabled"
)

type mailTemplate struct {
	subject string
	body    *template.Template
}

var builtinTemplates = map[string]struct{ subject, body string }{
	TemplateConfirmation: {
		subject: "Confirm your email address",
		body: `<p>Hello {{.Name}},</p>
<p>Use the token below to confirm your email address. It expires in {{.ExpiresInMinutes}} minutes.</p>
<p><code>{{.Token}}</code></p>`,
	},
	TemplateTwoFactorCode: {
		subject: "Your sign-in code",
		body: `<p>Hello {{.Name}},</p>
<p>Your verification code is <strong>{{.Code}}</strong>. It expires in {{.ExpiresInMinutes}} minutes.</p>
<p>If you did not try to sign in, change your password.</p>`,
	},
	TemplateAuthenticatorSetup: {
		subject: "Authenticator setup started",
		body: `<p>Hello {{.Name}},</p>
<p>An authenticator app setup was started for your account. Enter a code from the app to finish enabling it.</p>`,
	},
	TemplateAuthenticatorEnabled: {
		subject: "Authenticator app enabled",
		body: `<p>Hello {{.Name}},</p>
<p>Two-factor authentication with an authenticator app is now enabled for your account.</p>`,
	},
	TemplateAuthenticatorDisabled: {
		subject: "Authenticator app disabled",
		body: `<p>Hello {{.Name}},</p>
<p>Two-factor authentication with an authenticator app was disabled for your account.</p>`,
	},
}

// MailData is the template model shared by all notification emails.
type MailData struct {
	Name             string
	Code             string
	Token            string
	ExpiresInMinutes int
}

// Notifier renders notification templates and hands them to the mailer.
type Notifier struct {
	mailer    port.Mailer
	templates map[string]mailTemplate
	logger    *zap.Logger
}

// NewNotifier parses the built-in templates.
func NewNotifier(mailer port.Mailer, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	templates := make(map[string]mailTemplate, len(builtinTemplates))
	for name, def := range builtinTemplates {
		templates[name] = mailTemplate{
			subject: def.subject,
			body:    template.Must(template.New(name).Parse(def.body)),
		}
	}
	return &Notifier{mailer: mailer, templates: templates, logger: log}
}

// Send renders name for data and delivers it synchronously.
func (n *Notifier) Send(ctx context.Context, name, to string, data MailData) error {
	tmpl, ok := n.templates[name]
	if !ok {
		return fmt.Errorf("%w: mail template %q", ErrConfigurationMissing, name)
	}

	var body bytes.Buffer
	if err := tmpl.body.Execute(&body, data); err != nil {
		return fmt.Errorf("render %s mail: %w", name, err)
	}

	if err := n.mailer.Send(ctx, domain.MailMessage{
		To:       to,
		Subject:  tmpl.subject,
		HTMLBody: body.String(),
		Template: name,
	}); err != nil {
		return fmt.Errorf("send %s mail: %w", name, err)
	}
	return nil
}

// SendBestEffort logs delivery failures instead of returning them.
func (n *Notifier) SendBestEffort(ctx context.Context, name, to string, data MailData) {
	if err := n.Send(ctx, name, to, data); err != nil {
		n.logger.Warn("notification email failed",
			zap.String("template", name),
			zap.String("to", logger.MaskEmail(to)),
			zap.Error(err),
		)
	}
}

func displayName(user domain.User) string {
	if user.FirstName != "" {
		return user.FirstName
	}
	return user.Email
}
