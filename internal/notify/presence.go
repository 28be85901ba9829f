package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/example/session-roster/internal/application"
	"github.com/example/session-roster/internal/persistence"
)

// UpdateSource is the part of *tgbotapi.BotAPI the presence listener uses.
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// PersonResolver maps a chat user to a registered person.
type PersonResolver interface {
	Resolve(ctx context.Context, externalID int64) (persistence.Person, error)
}

// PresenceConfirmer records a presence confirmation.
type PresenceConfirmer interface {
	ConfirmPresence(ctx context.Context, sessionID, personID string) error
}

// PresenceListener answers the "I'll be there" button attached to reminders.
type PresenceListener struct {
	bot        UpdateSource
	people     PersonResolver
	attendance PresenceConfirmer
	logger     *slog.Logger
}

func NewPresenceListener(bot UpdateSource, people PersonResolver, attendance PresenceConfirmer, logger *slog.Logger) *PresenceListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &PresenceListener{bot: bot, people: people, attendance: attendance, logger: logger.With("component", "presence_listener")}
}

// Run long-polls for updates until ctx is done.
func (l *PresenceListener) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := l.bot.GetUpdatesChan(u)
	defer l.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			if upd.CallbackQuery == nil {
				continue
			}
			reply, handled := l.Handle(ctx, upd.CallbackQuery)
			if !handled {
				continue
			}
			if _, err := l.bot.Request(tgbotapi.NewCallback(upd.CallbackQuery.ID, reply)); err != nil {
				l.logger.WarnContext(ctx, "failed to answer callback", "error", err)
			}
		}
	}
}

// Handle processes one callback query and returns the short answer shown to
// the user. handled is false for callbacks that are not presence buttons.
func (l *PresenceListener) Handle(ctx context.Context, q *tgbotapi.CallbackQuery) (reply string, handled bool) {
	sessionID, ok := strings.CutPrefix(q.Data, PresenceCallbackPrefix)
	if !ok || q.From == nil {
		return "", false
	}

	logger := l.logger.With("session_id", sessionID, "external_id", q.From.ID)
	person, err := l.people.Resolve(ctx, q.From.ID)
	if err != nil {
		logger.WarnContext(ctx, "presence from unknown person", "error", err, "error_kind", application.ErrorKind(err))
		return "You are not registered for this session.", true
	}

	err = l.attendance.ConfirmPresence(ctx, sessionID, person.ID)
	switch {
	case err == nil:
		return "Thanks, see you there!", true
	case errors.Is(err, application.ErrNotRegistered):
		return "You are not registered for this session.", true
	case errors.Is(err, application.ErrSessionNotFound):
		return "This session is no longer open.", true
	default:
		logger.ErrorContext(ctx, "failed to confirm presence", "error", err, "error_kind", application.ErrorKind(err))
		return "Something went wrong, please try again.", true
	}
}
