package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"strings"

	"automator-go/internal/model"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// StepType is the step type handled by Service.
const StepType = "gmail_send"

// Credentials is the JSON stored on a gmail integration.
type Credentials struct {
	ClientID     string        `json:"client_id"`
	ClientSecret string        `json:"client_secret"`
	Token        *oauth2.Token `json:"token"`
}

// SendParams are the parameters of a gmail_send step.
type SendParams struct {
	To      string `json:"to" validate:"required,email"`
	Cc      string `json:"cc" validate:"omitempty,email"`
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body"`
}

// SendResult is returned from a successful send.
type SendResult struct {
	MessageID string `json:"message_id"`
	ThreadID  string `json:"thread_id"`
}

// Service sends mail through the Gmail API on behalf of an integration.
type Service struct {
	logger   *zap.SugaredLogger
	endpoint string
	validate *validator.Validate
}

// NewService creates a Gmail Service. A non-empty endpoint overrides the
// API base URL.
func NewService(endpoint string, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		logger:   logger,
		endpoint: endpoint,
		validate: validator.New(),
	}
}

// HandleStep implements the gmail_send step.
func (s *Service) HandleStep(ctx context.Context, step model.Step, integration *model.Integration) (any, error) {
	if integration == nil {
		return nil, errors.New("gmail_send requires a gmail integration")
	}

	var creds Credentials
	if err := json.Unmarshal(integration.Credentials, &creds); err != nil {
		return nil, fmt.Errorf("failed to decode gmail credentials: %w", err)
	}
	if creds.Token == nil || (creds.Token.AccessToken == "" && creds.Token.RefreshToken == "") {
		return nil, errors.New("gmail integration has no token")
	}

	var params SendParams
	if err := json.Unmarshal(step.Params, &params); err != nil {
		return nil, fmt.Errorf("failed to decode step params: %w", err)
	}
	if err := s.validate.Struct(params); err != nil {
		return nil, fmt.Errorf("invalid gmail_send params: %w", err)
	}

	srv, err := s.client(ctx, creds)
	if err != nil {
		return nil, err
	}
	return s.Send(ctx, srv, params)
}

// Send delivers one message as the authenticated user.
func (s *Service) Send(ctx context.Context, srv *gmail.Service, params SendParams) (*SendResult, error) {
	raw, err := buildMessage(params)
	if err != nil {
		return nil, err
	}
	msg := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(raw)}
	sent, err := srv.Users.Messages.Send("me", msg).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	s.logger.Infow("Sent gmail message", "message_id", sent.Id, "to", params.To)
	return &SendResult{MessageID: sent.Id, ThreadID: sent.ThreadId}, nil
}

func (s *Service) client(ctx context.Context, creds Credentials) (*gmail.Service, error) {
	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailSendScope},
	}
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, conf.TokenSource(ctx, creds.Token)))}
	if s.endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.endpoint))
	}
	srv, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail client: %w", err)
	}
	return srv, nil
}

// buildMessage renders a plain-text RFC 5322 message.
func buildMessage(p SendParams) ([]byte, error) {
	for _, h := range []string{p.To, p.Cc, p.Subject} {
		if strings.ContainsAny(h, "\r\n") {
			return nil, errors.New("header values must not contain line breaks")
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\r\n", p.To)
	if p.Cc != "" {
		fmt.Fprintf(&b, "Cc: %s\r\n", p.Cc)
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", p.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(p.Body)
	return []byte(b.String()), nil
}
