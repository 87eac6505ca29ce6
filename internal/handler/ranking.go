package handler

import (
	"context"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v3"

	"credit-engine/internal/service"
)

// RankingHandler handles leaderboard commands.
type RankingHandler struct {
	ledger *service.LedgerService
}

// NewRankingHandler creates a new RankingHandler.
func NewRankingHandler(ledger *service.LedgerService) *RankingHandler {
	return &RankingHandler{ledger: ledger}
}

// HandleTop handles /top. It shows today's prediction winners and losers.
func (h *RankingHandler) HandleTop(c tele.Context) error {
	lb, err := h.ledger.Today(context.Background(), 10)
	if err != nil {
		return c.Reply(errorReply(err))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 Predictions today (%s)\n%s\n", lb.Day, divider)

	b.WriteString("🏆 Winners\n")
	if len(lb.Winners) == 0 {
		b.WriteString("No data\n")
	}
	medals := []string{"🥇", "🥈", "🥉"}
	for i, r := range lb.Winners {
		rank := fmt.Sprintf("%d.", i+1)
		if i < len(medals) {
			rank = medals[i]
		}
		fmt.Fprintf(&b, "%s %s: %s\n", rank, r.UserID, signed(r.NetProfit))
	}

	fmt.Fprintf(&b, "\n%s\n😢 Losers\n", divider)
	if len(lb.Losers) == 0 {
		b.WriteString("No data\n")
	}
	for i, r := range lb.Losers {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, r.UserID, signed(r.NetProfit))
	}
	b.WriteString(divider)
	return c.Reply(b.String())
}
