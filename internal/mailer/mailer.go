package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// ErrRejected is returned when SES refuses the message for the recipient.
var ErrRejected = errors.New("email rejected")

// SESAPI is the subset of the SES v2 client used by SESMailer.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type Config struct {
	Region        string
	FromAddress   string
	FromName      string
	ConfigSetName string
}

// SESMailer delivers verification codes through Amazon SES.
type SESMailer struct {
	api    SESAPI
	cfg    Config
	logger *slog.Logger
}

func NewSESMailer(ctx context.Context, cfg Config, logger *slog.Logger) (*SESMailer, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSESMailerWithAPI(sesv2.NewFromConfig(awsCfg), cfg, logger), nil
}

func NewSESMailerWithAPI(api SESAPI, cfg Config, logger *slog.Logger) *SESMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SESMailer{api: api, cfg: cfg, logger: logger}
}

func (m *SESMailer) SendOTP(ctx context.Context, to, code string, validFor time.Duration) error {
	from := m.cfg.FromAddress
	if m.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.cfg.FromName, m.cfg.FromAddress)
	}
	subject, text, html := renderOTP(code, validFor)

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &sestypes.Destination{ToAddresses: []string{to}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &sestypes.Body{
					Text: &sestypes.Content{Data: aws.String(text), Charset: aws.String("UTF-8")},
					Html: &sestypes.Content{Data: aws.String(html), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if m.cfg.ConfigSetName != "" {
		input.ConfigurationSetName = aws.String(m.cfg.ConfigSetName)
	}

	out, err := m.api.SendEmail(ctx, input)
	if err != nil {
		var rejected *sestypes.MessageRejected
		if errors.As(err, &rejected) {
			return fmt.Errorf("%w: %v", ErrRejected, err)
		}
		return fmt.Errorf("ses send email: %w", err)
	}
	m.logger.Info("otp email sent", "to", maskEmail(to), "message_id", aws.ToString(out.MessageId))
	return nil
}

// LogMailer writes codes to the log instead of sending them. Used when SES is disabled.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendOTP(_ context.Context, to, code string, validFor time.Duration) error {
	m.logger.Warn("email delivery disabled, logging otp", "to", maskEmail(to), "code", code, "valid_for", validFor.String())
	return nil
}

func renderOTP(code string, validFor time.Duration) (subject, text, html string) {
	minutes := int(validFor.Minutes())
	subject = "Your verification code"
	text = fmt.Sprintf("Your verification code is %s. It expires in %d minutes.\n\nIf you did not sign up, ignore this email.", code, minutes)
	html = fmt.Sprintf(`<p>Your verification code is</p><h2 style="letter-spacing:4px">%s</h2><p>It expires in %d minutes.</p><p>If you did not sign up, ignore this email.</p>`, code, minutes)
	return subject, text, html
}

func maskEmail(email string) string {
	local, domain, ok := strings.Cut(strings.TrimSpace(strings.ToLower(email)), "@")
	if !ok {
		return email
	}
	switch len(local) {
	case 0:
		return "***@" + domain
	case 1, 2:
		return local[:1] + "***@" + domain
	default:
		return local[:1] + "***" + local[len(local)-1:] + "@" + domain
	}
}
