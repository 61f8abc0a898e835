// Package mail carries outgoing mail requests to the delivery pipeline.
// Rendering happens downstream; this service only names the template and its parameters.
package mail

import (
	"context"
	"errors"
	"strings"
)

// Template names understood by the mail renderer.
const (
	TemplateCreatePassword = "create-password"
)

type Mail struct {
	To         []string          `json:"to"`
	Template   string            `json:"template"`
	Parameters map[string]string `json:"parameters"`
}

// Validate checks that the mail has at least one recipient and a template.
func (m Mail) Validate() error {
	if len(m.To) == 0 {
		return errors.New("mail: no recipients")
	}
	for _, to := range m.To {
		if strings.TrimSpace(to) == "" {
			return errors.New("mail: empty recipient")
		}
	}
	if strings.TrimSpace(m.Template) == "" {
		return errors.New("mail: template is required")
	}
	return nil
}

type Sender interface {
	Send(ctx context.Context, m Mail) error
}
