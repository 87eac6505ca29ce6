// Package handler provides Telegram bot command handlers.
package handler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"credit-engine/internal/apperr"
	"credit-engine/internal/model"
	"credit-engine/internal/repository"
)

const divider = "━━━━━━━━━━━━━━━"

// senderID returns the engine user id for the message sender.
func senderID(c tele.Context) (string, bool) {
	sender := c.Sender()
	if sender == nil {
		return "", false
	}
	return strconv.FormatInt(sender.ID, 10), true
}

// errorReply turns a service error into a user-facing message.
func errorReply(err error) string {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		ae = &apperr.Error{Kind: apperr.KindOf(err)}
	}

	switch ae.Kind {
	case apperr.KindValidation:
		switch {
		case ae.Err != nil:
			return "❌ " + ae.Err.Error()
		case ae.Msg != "":
			return "❌ " + ae.Msg
		}
		return "❌ Invalid input"
	case apperr.KindInsufficientBalance:
		return "❌ Insufficient balance"
	case apperr.KindDuplicateWager:
		return "❌ You already have a pending prediction on this match"
	case apperr.KindNotFound:
		if errors.Is(err, repository.ErrAccountNotFound) {
			return "❌ No account yet, send /start first"
		}
		return "❌ Not found"
	case apperr.KindConcurrencyConflict:
		return "⏳ Another operation is in progress, try again"
	default:
		log.Error().Err(err).Msg("Command failed")
		return "❌ Something went wrong, please try again later"
	}
}

// parseAmount parses a positive credit amount.
func parseAmount(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("❌ Amount must be a positive whole number")
	}
	return n, nil
}

var outcomeAliases = map[string]model.Outcome{
	"home":     model.OutcomeHomeWin,
	"home_win": model.OutcomeHomeWin,
	"1":        model.OutcomeHomeWin,
	"draw":     model.OutcomeDraw,
	"x":        model.OutcomeDraw,
	"away":     model.OutcomeAwayWin,
	"away_win": model.OutcomeAwayWin,
	"2":        model.OutcomeAwayWin,
}

// parseOutcome accepts the canonical outcome names and the 1/X/2 shorthand.
func parseOutcome(s string) (model.Outcome, error) {
	o, ok := outcomeAliases[strings.ToLower(s)]
	if !ok {
		return "", fmt.Errorf("❌ Outcome must be home, draw or away")
	}
	return o, nil
}

func signed(n int64) string {
	if n > 0 {
		return "+" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
