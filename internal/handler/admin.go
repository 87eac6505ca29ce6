package handler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"credit-engine/internal/model"
	"credit-engine/internal/service"
)

// AdminHandler handles operator commands. Access is checked by the admin
// middleware before these run.
type AdminHandler struct {
	ledger     *service.LedgerService
	settlement *service.SettlementService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(ledger *service.LedgerService, settlement *service.SettlementService) *AdminHandler {
	return &AdminHandler{ledger: ledger, settlement: settlement}
}

// HandleGrant handles /admin_grant <user_id> <amount>.
func (h *AdminHandler) HandleGrant(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	args := c.Args()
	if len(args) != 2 {
		return c.Reply("❌ Usage: /admin_grant <user_id> <amount>")
	}
	if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
		return c.Reply("❌ User id must be numeric")
	}
	amount, err := parseAmount(args[1])
	if err != nil {
		return c.Reply(err.Error())
	}

	tx, err := h.ledger.ApplyTransaction(context.Background(), model.TransactionRequest{
		UserID: args[0],
		Type:   model.TxTypeAdjustment,
		Amount: amount,
		Source: model.SourceAdminGrant,
	})
	if err != nil {
		return c.Reply(errorReply(err))
	}

	log.Info().
		Int64("admin_id", sender.ID).
		Str("target_id", args[0]).
		Int64("amount", amount).
		Str("operation", "admin_grant").
		Msg("Admin operation executed")

	return c.Reply(fmt.Sprintf(
		"✅ Granted\n\nUser: %s\nAmount: +%d\nBalance: %d",
		args[0], amount, tx.BalanceAfter,
	))
}

// HandleSettle handles /admin_settle <match_id> <home|draw|away>. It
// records the result and settles the match in one step.
func (h *AdminHandler) HandleSettle(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	args := c.Args()
	if len(args) != 2 {
		return c.Reply("❌ Usage: /admin_settle <match_id> <home|draw|away>")
	}
	result, err := parseOutcome(args[1])
	if err != nil {
		return c.Reply(err.Error())
	}

	ctx := context.Background()
	if _, err := h.settlement.RecordResult(ctx, args[0], result, time.Time{}); err != nil {
		return c.Reply(errorReply(err))
	}
	report, err := h.settlement.SettleMatch(ctx, args[0])
	if err != nil {
		return c.Reply(errorReply(err))
	}

	log.Info().
		Int64("admin_id", sender.ID).
		Str("match_id", args[0]).
		Str("result", string(result)).
		Str("operation", "admin_settle").
		Msg("Admin operation executed")

	return c.Reply(formatReport("🏁 Match settled", report))
}

// HandleCancel handles /admin_cancel <match_id>.
func (h *AdminHandler) HandleCancel(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	args := c.Args()
	if len(args) != 1 {
		return c.Reply("❌ Usage: /admin_cancel <match_id>")
	}

	report, err := h.settlement.CancelMatch(context.Background(), args[0])
	if err != nil {
		return c.Reply(errorReply(err))
	}

	log.Info().
		Int64("admin_id", sender.ID).
		Str("match_id", args[0]).
		Str("operation", "admin_cancel").
		Msg("Admin operation executed")

	return c.Reply(formatReport("🚫 Match cancelled", report))
}

func formatReport(title string, r *service.SettlementReport) string {
	if r.AlreadyResolved {
		return title + "\n\nAlready settled, nothing to do"
	}
	msg := fmt.Sprintf(
		"%s\n%s\nWon: %d\nLost: %d\nRefunded: %d\nPaid out: %d\n%s",
		title, divider, r.Won, r.Lost, r.Refunded, r.CoinsPaid, divider,
	)
	if r.Failed > 0 {
		msg += fmt.Sprintf("\n⚠️ %d predictions failed and will be retried", r.Failed)
	}
	return msg
}
