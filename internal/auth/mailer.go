package auth

import (
	"context"
	"log/slog"
	"strings"

	"tessera.org/internal/mail"
	"tessera.org/internal/obs"
	"tessera.org/internal/parameter"
)

const createPasswordPath = "/create-password/"

// passwordMailer sends the create-password link. Delivery failures are logged
// and never fail the calling operation.
type passwordMailer struct {
	sender MailSender
	params ParameterReader
}

func (m passwordMailer) createPasswordMail(ctx context.Context, user *User) mail.Mail {
	base := strings.TrimRight(m.params.Definition(ctx, parameter.FrontendURL), "/")
	return mail.Mail{
		To:       []string{user.EmailAddress},
		Template: mail.TemplateCreatePassword,
		Parameters: map[string]string{
			"userFullName": user.FullName,
			"url":          base + createPasswordPath + user.Password.ID,
		},
	}
}

func (m passwordMailer) sendCreatePassword(ctx context.Context, user *User) {
	if m.sender == nil || user.Password == nil {
		return
	}
	if err := m.sender.Send(ctx, m.createPasswordMail(ctx, user)); err != nil {
		obs.Logger().Error("create_password_mail_failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
}
