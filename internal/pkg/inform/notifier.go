package inform

import (
	"time"

	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/cmdapp"
	"github.com/jordan-wright/email"
	"github.com/pkg/errors"
)

// EmailMaker prepares an email for the notification event
type EmailMaker interface {
	Make(data *Data) (*email.Email, error)
}

// EmailSender sends the prepared email
type EmailSender interface {
	Send(email *email.Email) error
}

// Notifier emails the uploader when a recording reaches a terminal state.
// A notification failure is logged, it never fails the pipeline
type Notifier struct {
	maker  EmailMaker
	sender EmailSender
}

// NewNotifier creates Notifier instance
func NewNotifier(maker EmailMaker, sender EmailSender) (*Notifier, error) {
	if maker == nil {
		return nil, errors.New("No email maker provided")
	}
	if sender == nil {
		return nil, errors.New("No email sender provided")
	}
	return &Notifier{maker: maker, sender: sender}, nil
}

// Notify sends the status email if an address was provided on upload
func (n *Notifier) Notify(id, address, status string) {
	if address == "" {
		return
	}
	data := Data{ID: id, Email: address, Status: status, MsgTime: time.Now()}
	mail, err := n.maker.Make(&data)
	if err != nil {
		cmdapp.Log.Error(errors.Wrap(err, "Can't prepare email for "+id))
		return
	}
	if err := n.sender.Send(mail); err != nil {
		cmdapp.Log.Error(errors.Wrap(err, "Can't send email for "+id))
		return
	}
	cmdapp.Log.Infof("Sent '%s' email for %s", status, id)
}
