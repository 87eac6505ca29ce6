package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v3"

	"credit-engine/internal/service"
)

const historyPageSize = 10

// AccountHandler handles account commands.
type AccountHandler struct {
	ledger *service.LedgerService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(ledger *service.LedgerService) *AccountHandler {
	return &AccountHandler{ledger: ledger}
}

// HandleStart handles /start. It opens the account on first use.
func (h *AccountHandler) HandleStart(c tele.Context) error {
	userID, ok := senderID(c)
	if !ok {
		return nil
	}

	a, created, err := h.ledger.OpenAccount(context.Background(), userID)
	if err != nil {
		return c.Reply(errorReply(err))
	}

	if created {
		return c.Reply(fmt.Sprintf(
			"🎉 Welcome!\n\n"+
				"Your account is open with %d credits.\n\n"+
				"Commands:\n"+
				"/balance - show balance\n"+
				"/history [page] - ledger history\n"+
				"/predict <match> <home|draw|away> <low|medium|high> <coins>\n"+
				"/mybets - your predictions\n"+
				"/streak - your streak and win rate\n"+
				"/top - today's leaderboard",
			a.Balance,
		))
	}
	return c.Reply(fmt.Sprintf("👋 Welcome back!\n\nBalance: %d credits", a.Balance))
}

// HandleBalance handles /balance.
func (h *AccountHandler) HandleBalance(c tele.Context) error {
	userID, ok := senderID(c)
	if !ok {
		return nil
	}

	a, err := h.ledger.GetAccount(context.Background(), userID)
	if err != nil {
		return c.Reply(errorReply(err))
	}
	return c.Reply(fmt.Sprintf("💰 Balance: %d credits\n🔒 In open predictions: %d", a.Balance, a.LockedCredits))
}

// HandleHistory handles /history [page].
func (h *AccountHandler) HandleHistory(c tele.Context) error {
	userID, ok := senderID(c)
	if !ok {
		return nil
	}

	page := 1
	if args := c.Args(); len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return c.Reply("❌ Usage: /history [page]")
		}
		page = n
	}

	history, err := h.ledger.ListHistory(context.Background(), userID, page, historyPageSize)
	if err != nil {
		return c.Reply(errorReply(err))
	}
	if len(history.Items) == 0 {
		return c.Reply("📒 No transactions")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📒 History (page %d)\n%s\n", page, divider)
	for _, tx := range history.Items {
		fmt.Fprintf(&b, "%s %s %s → %d\n",
			tx.CreatedAt.Format("01-02 15:04"), tx.Source, signed(tx.Type.Signed(tx.Amount)), tx.BalanceAfter)
	}
	b.WriteString(divider)
	if history.HasMore {
		fmt.Fprintf(&b, "\nMore: /history %d", page+1)
	}
	return c.Reply(b.String())
}
