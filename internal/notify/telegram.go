package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/example/session-roster/internal/allocation"
	"github.com/example/session-roster/internal/application"
	"github.com/example/session-roster/internal/persistence"
)

// MessageSender is the part of *tgbotapi.BotAPI the sink uses.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Subscribers lists the people who receive session broadcasts.
type Subscribers interface {
	ListSubscribed(ctx context.Context) ([]persistence.Person, error)
}

// UnsubscribeFunc is called for a chat that can no longer be reached.
type UnsubscribeFunc func(ctx context.Context, externalID int64) error

// PresenceCallbackPrefix starts the callback data of the presence button.
const PresenceCallbackPrefix = "presence:"

// TelegramSink sends direct messages for personal events and broadcasts
// session announcements to every subscriber.
type TelegramSink struct {
	sender      MessageSender
	subscribers Subscribers
	unsubscribe UnsubscribeFunc
	logger      *slog.Logger
}

// NewTelegramSink builds a sink. unsubscribe may be nil.
func NewTelegramSink(sender MessageSender, subscribers Subscribers, unsubscribe UnsubscribeFunc, logger *slog.Logger) *TelegramSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramSink{
		sender:      sender,
		subscribers: subscribers,
		unsubscribe: unsubscribe,
		logger:      logger.With("sink", "telegram"),
	}
}

// NewBotAPI connects to the Bot API with token.
func NewBotAPI(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	bot.Debug = false
	return bot, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

// Deliver sends the message for event. Events without a message are ignored.
func (s *TelegramSink) Deliver(ctx context.Context, event application.Event) error {
	text := Compose(event)
	if text == "" {
		return nil
	}

	if isBroadcast(event.Kind) {
		return s.broadcast(ctx, event, text)
	}
	if event.ExternalID == 0 {
		return Permanent(fmt.Errorf("telegram: %s event for %s has no chat id", event.Kind, event.PersonID))
	}
	return s.send(ctx, event.ExternalID, s.message(event, event.ExternalID, text))
}

// broadcast is best effort: a retry would repeat the message for everyone who
// already got it, so failures are reported as permanent.
func (s *TelegramSink) broadcast(ctx context.Context, event application.Event, text string) error {
	if s.subscribers == nil {
		return nil
	}
	people, err := s.subscribers.ListSubscribed(ctx)
	if err != nil {
		return fmt.Errorf("telegram: list subscribers: %w", err)
	}

	var errs []error
	for _, person := range people {
		if err := s.send(ctx, person.ExternalID, s.message(event, person.ExternalID, text)); err != nil && !IsPermanent(err) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return Permanent(fmt.Errorf("telegram: broadcast %s failed for %d of %d: %w", event.Kind, len(errs), len(people), errors.Join(errs...)))
	}
	return nil
}

func (s *TelegramSink) send(ctx context.Context, chatID int64, msg tgbotapi.MessageConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.sender.Send(msg)
	if err == nil {
		return nil
	}
	if !Unreachable(err) {
		return fmt.Errorf("telegram: send to %d: %w", chatID, err)
	}

	s.logger.WarnContext(ctx, "chat unreachable, unsubscribing", "external_id", chatID, "error", err)
	if s.unsubscribe != nil {
		if uErr := s.unsubscribe(ctx, chatID); uErr != nil && !errors.Is(uErr, application.ErrPersonNotFound) {
			s.logger.ErrorContext(ctx, "failed to unsubscribe", "external_id", chatID, "error", uErr)
		}
	}
	return Permanent(fmt.Errorf("telegram: chat %d unreachable: %w", chatID, err))
}

func (s *TelegramSink) message(event application.Event, chatID int64, text string) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, text)
	if event.Kind == application.EventPresenceReminder {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("I'll be there", PresenceCallbackPrefix+event.SessionID),
			),
		)
	}
	return msg
}

// Unreachable reports whether err means the chat blocked the bot or no longer
// exists.
func Unreachable(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusForbidden {
			return true
		}
		if apiErr.Code == http.StatusBadRequest && strings.Contains(strings.ToLower(apiErr.Message), "chat not found") {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "blocked") || strings.Contains(msg, "forbidden") || strings.Contains(msg, "chat not found")
}

func isBroadcast(kind application.EventKind) bool {
	return kind == application.EventSessionOpened || kind == application.EventSlotsAvailable
}

// Compose renders the chat message for event, or "" when the event is not
// sent to people.
func Compose(event application.Event) string {
	name := event.SessionName
	if name == "" {
		name = "the next session"
	}

	switch event.Kind {
	case application.EventSessionOpened:
		return fmt.Sprintf("New session: %s\nSign-up is open.", name)
	case application.EventPromoted:
		if event.OldMainCount == 0 && event.NewStatus == allocation.StatusConfirmed {
			return fmt.Sprintf("Good news! You moved from the reserve to the main roster for %s.", name)
		}
		gained := event.NewMainCount - event.OldMainCount
		return fmt.Sprintf("Good news! %d more of your group moved to the main roster for %s (%d confirmed now).", gained, name, event.NewMainCount)
	case application.EventDemoted:
		if event.NewMainCount == 0 {
			return fmt.Sprintf("The roster for %s changed and you are now in the reserve list.", name)
		}
		return fmt.Sprintf("The roster for %s changed: %d of your group stay confirmed, the rest moved to reserve.", name, event.NewMainCount)
	case application.EventPresenceReminder:
		if event.Reminder == persistence.SecondReminder {
			return fmt.Sprintf("Second reminder: please confirm you will attend %s, or your place will be released.", name)
		}
		return fmt.Sprintf("Please confirm you will attend %s.", name)
	case application.EventAutoLeft:
		return fmt.Sprintf("You were removed from %s because your attendance was not confirmed.", name)
	case application.EventSlotsAvailable:
		if event.FreeSlots == 1 {
			return fmt.Sprintf("1 place is free for %s. Join while it lasts!", name)
		}
		return fmt.Sprintf("%d places are free for %s. Join while they last!", event.FreeSlots, name)
	default:
		return ""
	}
}
