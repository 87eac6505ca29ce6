package bot

import (
	"sync"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"credit-engine/internal/config"
)

// Whitelist gates updates by chat. Users seen in an allowed group may
// also talk to the bot in private.
type Whitelist struct {
	cfg *config.Config

	mu    sync.RWMutex
	known map[int64]bool
}

// NewWhitelist creates a Whitelist over the configured chats.
func NewWhitelist(cfg *config.Config) *Whitelist {
	return &Whitelist{cfg: cfg, known: make(map[int64]bool)}
}

func (w *Whitelist) remember(userID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.known[userID] = true
}

func (w *Whitelist) isKnown(userID int64) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.known[userID]
}

// Allowed reports whether an update from sender in chat should be handled.
func (w *Whitelist) Allowed(chat *tele.Chat, sender *tele.User) bool {
	if chat == nil || sender == nil {
		return false
	}

	if chat.Type == tele.ChatPrivate {
		// An empty whitelist means every chat is open.
		return len(w.cfg.Whitelist.Chats) == 0 || w.isKnown(sender.ID)
	}

	if !w.cfg.IsChatAllowed(chat.ID) {
		return false
	}
	w.remember(sender.ID)
	return true
}

// Middleware drops updates the whitelist does not allow.
func (w *Whitelist) Middleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if !w.Allowed(c.Chat(), c.Sender()) {
				if chat := c.Chat(); chat != nil {
					log.Debug().Int64("chat_id", chat.ID).Msg("Ignoring update from non-whitelisted chat")
				}
				return nil
			}
			return next(c)
		}
	}
}

// AdminMiddleware rejects senders not listed in admin.ids.
func AdminMiddleware(cfg *config.Config) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if sender == nil {
				return nil
			}
			if !cfg.IsAdmin(sender.ID) {
				log.Warn().
					Int64("user_id", sender.ID).
					Str("command", c.Text()).
					Msg("Non-admin attempted admin command")
				return c.Reply("❌ Admin permission required")
			}
			return next(c)
		}
	}
}

// LoggingMiddleware logs every incoming update.
func LoggingMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			ev := log.Debug()
			if sender := c.Sender(); sender != nil {
				ev = ev.Int64("user_id", sender.ID).Str("username", sender.Username)
			}
			if chat := c.Chat(); chat != nil {
				ev = ev.Int64("chat_id", chat.ID).Str("chat_type", string(chat.Type))
			}
			ev.Str("text", c.Text()).Msg("Received message")
			return next(c)
		}
	}
}

// RecoveryMiddleware turns a handler panic into an error reply.
func RecoveryMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("Recovered from panic in handler")
					err = c.Reply("❌ Internal error, please try again later")
				}
			}()
			return next(c)
		}
	}
}
