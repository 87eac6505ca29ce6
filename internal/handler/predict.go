package handler

import (
	"context"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v3"

	"credit-engine/internal/model"
	"credit-engine/internal/payout"
	"credit-engine/internal/service"
)

const predictUsage = "❌ Usage: /predict <match_id> <home|draw|away> <low|medium|high> <coins>"

var statusIcons = map[model.PredictionStatus]string{
	model.PredictionPending:   "⏳",
	model.PredictionWon:       "✅",
	model.PredictionLost:      "❌",
	model.PredictionRefunded:  "↩️",
	model.PredictionCancelled: "🚫",
}

// PredictHandler handles prediction commands.
type PredictHandler struct {
	wagers *service.WagerService
}

// NewPredictHandler creates a new PredictHandler.
func NewPredictHandler(wagers *service.WagerService) *PredictHandler {
	return &PredictHandler{wagers: wagers}
}

// HandlePredict handles /predict <match_id> <outcome> <confidence> <coins>.
func (h *PredictHandler) HandlePredict(c tele.Context) error {
	userID, ok := senderID(c)
	if !ok {
		return nil
	}

	args := c.Args()
	if len(args) != 4 {
		return c.Reply(predictUsage)
	}
	outcome, err := parseOutcome(args[1])
	if err != nil {
		return c.Reply(err.Error())
	}
	coins, err := parseAmount(args[3])
	if err != nil {
		return c.Reply(err.Error())
	}

	p, err := h.wagers.PlaceWager(context.Background(), service.WagerRequest{
		UserID:       userID,
		MatchID:      args[0],
		Outcome:      outcome,
		Confidence:   model.Confidence(strings.ToLower(args[2])),
		CoinsWagered: coins,
	})
	if err != nil {
		return c.Reply(errorReply(err))
	}

	return c.Reply(fmt.Sprintf(
		"🎯 Prediction placed\n%s\n"+
			"Pick: %s (%s)\n"+
			"Stake: %d\n"+
			"Odds: %s\n"+
			"Potential return: %d\n"+
			"ID: %s\n%s",
		divider, p.Outcome, p.Confidence, p.CoinsWagered, p.Odds.String(), p.PotentialReturn, p.ID, divider,
	))
}

// HandleMyBets handles /mybets.
func (h *PredictHandler) HandleMyBets(c tele.Context) error {
	userID, ok := senderID(c)
	if !ok {
		return nil
	}

	preds, err := h.wagers.ListUserPredictions(context.Background(), userID, 1, 10)
	if err != nil {
		return c.Reply(errorReply(err))
	}
	if len(preds) == 0 {
		return c.Reply("📋 No predictions yet")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📋 Your predictions\n%s\n", divider)
	for _, p := range preds {
		fmt.Fprintf(&b, "%s %s %s %d", statusIcons[p.Status], shortID(p.MatchID), p.Outcome, p.CoinsWagered)
		if p.Status == model.PredictionWon {
			fmt.Fprintf(&b, " → +%d", p.CoinsWon)
		}
		b.WriteString("\n")
	}
	b.WriteString(divider)
	return c.Reply(b.String())
}

// HandleStreak handles /streak.
func (h *PredictHandler) HandleStreak(c tele.Context) error {
	userID, ok := senderID(c)
	if !ok {
		return nil
	}

	st, err := h.wagers.Stats(context.Background(), userID)
	if err != nil {
		return c.Reply(errorReply(err))
	}
	return c.Reply(fmt.Sprintf(
		"🔥 Streak: %d (best %d)\n"+
			"Next win multiplier: x%s\n"+
			"Record: %d won / %d lost (%.1f%%)\n"+
			"Open: %d",
		st.CurrentStreak, st.LongestStreak,
		payout.StreakMultiplier(st.CurrentStreak).StringFixed(1),
		st.Won, st.Lost, st.WinRate, st.Pending,
	))
}

// HandleCancelBet handles /cancelbet <prediction_id>.
func (h *PredictHandler) HandleCancelBet(c tele.Context) error {
	userID, ok := senderID(c)
	if !ok {
		return nil
	}
	args := c.Args()
	if len(args) != 1 {
		return c.Reply("❌ Usage: /cancelbet <prediction_id>")
	}

	p, err := h.wagers.CancelWager(context.Background(), userID, args[0])
	if err != nil {
		return c.Reply(errorReply(err))
	}
	return c.Reply(fmt.Sprintf("🚫 Prediction cancelled, %d credits refunded", p.CoinsWagered))
}
