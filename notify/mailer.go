package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/mateNemeth/kona2.0/config"
)

const charset = "UTF-8"

// SESAPI is the part of the SES client the mailer uses.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// NewSESClient builds an SES client for cfg. Static credentials are used
// when both keys are set, otherwise the default AWS credential chain.
func NewSESClient(ctx context.Context, cfg config.MailConfig) (*ses.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return ses.NewFromConfig(awsCfg), nil
}

// SESMailer is a Transport that sends HTML alert mails through SES.
type SESMailer struct {
	client  SESAPI
	from    string
	bcc     string
	printer *message.Printer
	logger  *slog.Logger
}

// NewSESMailer returns a mailer sending from the given address. bcc may be
// empty.
func NewSESMailer(client SESAPI, from, bcc string, logger *slog.Logger) (*SESMailer, error) {
	if client == nil {
		return nil, errors.New("ses client is required")
	}
	if strings.TrimSpace(from) == "" {
		return nil, errors.New("sender address is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SESMailer{
		client:  client,
		from:    from,
		bcc:     bcc,
		printer: message.NewPrinter(language.Hungarian),
		logger:  logger,
	}, nil
}

// Send mails a to address.
func (m *SESMailer) Send(ctx context.Context, a Alert, address string) error {
	msg, err := m.Render(a)
	if err != nil {
		return err
	}

	dest := &types.Destination{ToAddresses: []string{address}}
	if m.bcc != "" {
		dest.BccAddresses = []string{m.bcc}
	}
	input := &ses.SendEmailInput{
		Destination: dest,
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String(charset)},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String(charset)},
				Text: &types.Content{Data: aws.String(msg.Text), Charset: aws.String(charset)},
			},
		},
		Source: aws.String(m.from),
	}

	out, err := m.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send email: %w", err)
	}
	if out != nil && out.MessageId != nil {
		m.logger.Debug("ses accepted message",
			slog.String("recipient", address),
			slog.String("message_id", *out.MessageId),
		)
	}
	return nil
}

// Mail is a rendered alert.
type Mail struct {
	Subject string
	HTML    string
	Text    string
}

type mailView struct {
	Title   string
	Price   string
	Average string
	Median  string
	Link    string
}

// Render builds the subject and bodies of a.
func (m *SESMailer) Render(a Alert) (Mail, error) {
	p := a.Payload
	fuel := "-"
	if p.FuelType != nil && *p.FuelType != "" {
		fuel = *p.FuelType
	}
	view := mailView{
		Title: fmt.Sprintf("%s %s - (%d, %s)", p.Make, p.Model, p.AgeYears, fuel),
		Price: "-",
		Link:  p.DetailURL,
	}
	if p.Price != nil {
		view.Price = m.euro(*p.Price)
	}
	if a.Statistic != nil {
		view.Average = m.euro(a.Statistic.Average)
		view.Median = m.euro(a.Statistic.Median)
	}

	var html bytes.Buffer
	if err := mailTemplate.Execute(&html, view); err != nil {
		return Mail{}, fmt.Errorf("render alert mail: %w", err)
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Figyelem! Új olcsó autó hirdetést találtunk!\n\nTalálat: %s - %s\n", view.Title, view.Price)
	if a.Statistic != nil {
		fmt.Fprintf(&text, "A típus átlagos ára: %s\nA típus medián ára: %s\n", view.Average, view.Median)
	}
	fmt.Fprintf(&text, "\nMegtekintés: %s\n", view.Link)

	return Mail{
		Subject: view.Title + " - " + view.Price,
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}

func (m *SESMailer) euro(v int) string {
	return m.printer.Sprintf("%d €", v)
}

var mailTemplate = template.Must(template.New("alert").Parse(`<!DOCTYPE html>
<html>
<head><meta content="text/html; charset=utf-8" http-equiv="Content-Type"/></head>
<body style="margin: 0; padding: 0; background-color: #FFFFFF;">
<table cellpadding="0" cellspacing="0" role="presentation" style="max-width: 500px; margin: 0 auto; font-family: 'Trebuchet MS', Tahoma, sans-serif; color: #555555;">
<tr><td style="background-color: #ffa818; padding: 10px; text-align: center; color: #ffffff; font-size: 16px;"><strong>Figyelem! Új olcsó autó hirdetést találtunk!</strong></td></tr>
<tr><td style="padding: 10px; font-size: 14px;">Találat: {{.Title}} - <span style="font-weight: bold;">{{.Price}}</span></td></tr>
{{- if .Average}}
<tr><td style="padding: 10px; font-size: 14px;">A típus átlagos ára: <span style="font-weight: bold;">{{.Average}}</span></td></tr>
<tr><td style="padding: 10px; font-size: 14px;">A típus medián ára: <span style="font-weight: bold;">{{.Median}}</span></td></tr>
{{- end}}
<tr><td style="padding: 10px; font-size: 14px;">A hirdetést a gombra kattintva érheti el:
<a href="{{.Link}}" target="_blank" style="display: inline-block; padding: 5px 20px; color: #ffffff; background-color: #3AAEE0; border-radius: 4px; text-decoration: none;">Megtekintés</a></td></tr>
</table>
</body>
</html>
`))
