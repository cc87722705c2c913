package domain

// MailMessage is a rendered email handed to the mail transport.
type MailMessage struct {
	ID       string
	To       string
	Subject  string
	HTMLBody string
	Template string
}
