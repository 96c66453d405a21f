package notifications

import (
	"fmt"
	"log/slog"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"

	"github.com/swapdesk/stickerswap/stickerswap/database/models"
)

// Notifier receives fire-and-forget pings on trade milestones. A failing
// notifier must never roll back or block a trade state change, so none of
// these methods return an error.
type Notifier interface {
	InviteSent(session *models.TradeSession)
	InviteAccepted(session *models.TradeSession)
	TradeCompleted(session *models.TradeSession)
}

// NoopNotifier is used when no dispatcher is configured.
type NoopNotifier struct{}

func (NoopNotifier) InviteSent(*models.TradeSession)     {}
func (NoopNotifier) InviteAccepted(*models.TradeSession) {}
func (NoopNotifier) TradeCompleted(*models.TradeSession) {}

// DiscordNotifier delivers milestone pings as Discord DMs through a
// REST-only client. Party ids are Discord snowflakes in this deployment.
type DiscordNotifier struct {
	rest rest.Rest
}

func NewDiscordNotifier(token string) *DiscordNotifier {
	return &DiscordNotifier{rest: rest.New(rest.NewClient(token))}
}

func (n *DiscordNotifier) InviteSent(session *models.TradeSession) {
	go n.dm(session.PartyB, fmt.Sprintf(
		"📬 <@%s> invited you to trade stickers. Session code: `%s`", session.PartyA, session.Code))
}

func (n *DiscordNotifier) InviteAccepted(session *models.TradeSession) {
	go n.dm(session.PartyA, fmt.Sprintf(
		"🤝 <@%s> accepted your trade invite `%s`. Time to negotiate!", session.PartyB, session.Code))
}

func (n *DiscordNotifier) TradeCompleted(session *models.TradeSession) {
	message := fmt.Sprintf("✅ Trade `%s` completed. Check your collection!", session.Code)
	go n.dm(session.PartyA, message)
	go n.dm(session.PartyB, message)
}

func (n *DiscordNotifier) dm(partyID string, content string) {
	userID, err := snowflake.Parse(partyID)
	if err != nil {
		slog.Warn("Skipping notification for non-snowflake party id",
			slog.String("party_id", partyID))
		return
	}

	channel, err := n.rest.CreateDMChannel(userID)
	if err != nil {
		slog.Error("Failed to create DM channel",
			slog.String("party_id", partyID),
			slog.String("error", err.Error()))
		return
	}

	if _, err = n.rest.CreateMessage(channel.ID(), discord.NewMessageCreateBuilder().
		SetContent(content).
		Build()); err != nil {
		slog.Error("Failed to send notification",
			slog.String("party_id", partyID),
			slog.String("error", err.Error()))
	}
}
