package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"automator-go/internal/model"

	"github.com/go-playground/validator/v10"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// StepType is the step type handled by Service.
const StepType = "telegram_message"

// DefaultRequestTimeout bounds each Bot API call when NewService is given no client.
const DefaultRequestTimeout = 30 * time.Second

// Credentials is the JSON stored on a telegram integration.
type Credentials struct {
	BotToken string `json:"bot_token"`
	ChatID   int64  `json:"chat_id"`
}

// MessageParams are the parameters of a telegram_message step. ChatID
// overrides the integration's default chat.
type MessageParams struct {
	Text      string `json:"text" validate:"required,max=4096"`
	ChatID    int64  `json:"chat_id"`
	ParseMode string `json:"parse_mode" validate:"omitempty,oneof=HTML Markdown MarkdownV2"`
}

// MessageResult is returned from a successful send.
type MessageResult struct {
	MessageID int   `json:"message_id"`
	ChatID    int64 `json:"chat_id"`
}

// Service sends Telegram messages on behalf of integrations. Bot clients are
// cached per token and outgoing requests share one rate limiter. Authorizing
// one token never blocks sends for another.
type Service struct {
	logger   *zap.SugaredLogger
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	validate *validator.Validate

	group singleflight.Group
	mu    sync.Mutex
	bots  map[string]*tgbotapi.BotAPI
}

// NewService creates a Telegram Service. An empty endpoint uses the public
// Bot API; ratePerSecond <= 0 disables limiting.
func NewService(endpoint string, ratePerSecond float64, client *http.Client, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultRequestTimeout}
	}
	limit := rate.Inf
	burst := 1
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
		burst = int(ratePerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &Service{
		logger:   logger,
		endpoint: endpoint,
		client:   client,
		limiter:  rate.NewLimiter(limit, burst),
		validate: validator.New(),
		bots:     make(map[string]*tgbotapi.BotAPI),
	}
}

// HandleStep implements the telegram_message step.
func (s *Service) HandleStep(ctx context.Context, step model.Step, integration *model.Integration) (any, error) {
	if integration == nil {
		return nil, errors.New("telegram_message requires a telegram integration")
	}

	var creds Credentials
	if err := json.Unmarshal(integration.Credentials, &creds); err != nil {
		return nil, fmt.Errorf("failed to decode telegram credentials: %w", err)
	}
	if creds.BotToken == "" {
		return nil, errors.New("telegram integration has no bot token")
	}

	var params MessageParams
	if err := json.Unmarshal(step.Params, &params); err != nil {
		return nil, fmt.Errorf("failed to decode step params: %w", err)
	}
	if err := s.validate.Struct(params); err != nil {
		return nil, fmt.Errorf("invalid telegram_message params: %w", err)
	}
	chatID := params.ChatID
	if chatID == 0 {
		chatID = creds.ChatID
	}
	if chatID == 0 {
		return nil, errors.New("no chat_id configured")
	}

	return s.SendMessage(ctx, creds.BotToken, chatID, params.Text, params.ParseMode)
}

// SendMessage sends a text message to a given chat ID. It returns once ctx
// is done even if the Bot API has not answered.
func (s *Service) SendMessage(ctx context.Context, botToken string, chatID int64, text, parseMode string) (*MessageResult, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	bot, err := s.bot(ctx, botToken)
	if err != nil {
		return nil, err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = parseMode

	type sendResult struct {
		sent tgbotapi.Message
		err  error
	}
	done := make(chan sendResult, 1)
	go func() {
		sent, err := bot.Send(msg)
		done <- sendResult{sent, err}
	}()

	var res sendResult
	select {
	case res = <-done:
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to send telegram message: %w", ctx.Err())
	}
	if res.err != nil {
		return nil, fmt.Errorf("failed to send telegram message: %w", res.err)
	}
	s.logger.Infow("Sent telegram message", "chat_id", chatID, "message_id", res.sent.MessageID)
	return &MessageResult{MessageID: res.sent.MessageID, ChatID: chatID}, nil
}

// bot returns the cached client for token, authorizing it on first use.
// Concurrent callers for the same token share one getMe call.
func (s *Service) bot(ctx context.Context, token string) (*tgbotapi.BotAPI, error) {
	s.mu.Lock()
	bot, ok := s.bots[token]
	s.mu.Unlock()
	if ok {
		return bot, nil
	}

	ch := s.group.DoChan(token, func() (any, error) {
		bot, err := tgbotapi.NewBotAPIWithClient(token, s.endpoint, s.client)
		if err != nil {
			return nil, fmt.Errorf("failed to authorize telegram bot: %w", err)
		}
		s.logger.Infow("Authorized telegram bot", "username", bot.Self.UserName)
		s.mu.Lock()
		s.bots[token] = bot
		s.mu.Unlock()
		return bot, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*tgbotapi.BotAPI), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to authorize telegram bot: %w", ctx.Err())
	}
}
