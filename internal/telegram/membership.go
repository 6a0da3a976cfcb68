package telegram

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"tg_gatekeeper_bot/internal/logging"
)

// handleChatMember watches the waiting room. Exactly the left-to-member
// transition greets the newcomer and alerts the admins; rejoin after a kick
// or unban is not that transition and stays silent.
func (r *Router) handleChatMember(ctx context.Context, upd *models.ChatMemberUpdated) {
	if upd == nil || upd.Chat.ID != r.waitingRoomChatID {
		return
	}

	if upd.OldChatMember.Type != models.ChatMemberTypeLeft || upd.NewChatMember.Type != models.ChatMemberTypeMember {
		return
	}

	member := upd.NewChatMember.Member
	if member == nil || member.User == nil {
		return
	}
	user := member.User

	r.logger.WithFields(logging.Fields{
		"event":   "waiting_room_joined",
		"user_id": user.ID,
	}).Info("user entered the waiting room")

	r.alert(ctx, fmt.Sprintf("🆕 %s %s (@%s id:%d)", user.FirstName, user.LastName, user.Username, user.ID))
	r.sendHTML(ctx, r.waitingRoomChatID, waitingRoomWelcome(user.FirstName, r.rulesURL))
}

// handleJoinRequest resolves a join request against the ledger and performs
// the platform side effects of the decision.
func (r *Router) handleJoinRequest(ctx context.Context, req *models.ChatJoinRequest) {
	if req == nil {
		return
	}

	handle := "@" + req.From.Username
	presented := ""
	if req.InviteLink != nil {
		presented = req.InviteLink.InviteLink
	}

	decision := r.approvals.ResolveJoinRequest(req.Chat.ID, handle, presented)
	if !decision.Accept {
		r.alert(ctx, fmt.Sprintf("⛔ Declined join request from %s: %s", handle, declineReasonText(decision.Reason)))
		if _, err := r.api.DeclineChatJoinRequest(ctx, &bot.DeclineChatJoinRequestParams{
			ChatID: req.Chat.ID,
			UserID: req.From.ID,
		}); err != nil {
			r.logger.WithField("event", "join_decline_failed").WithError(err).Warn("failed to decline join request")
		}
		return
	}

	if _, err := r.api.ApproveChatJoinRequest(ctx, &bot.ApproveChatJoinRequestParams{
		ChatID: r.mainChatID,
		UserID: req.From.ID,
	}); err != nil {
		// Admission failed, so the welcome and the waiting-room removal must
		// not happen. The entry is already consumed; the admin has to issue
		// a fresh /approve.
		r.logger.WithField("event", "join_approve_failed").WithError(err).Error("failed to admit user to main chat")
		r.alert(ctx, fmt.Sprintf("🆘 Failed to admit %s, please approve them again", handle))
		return
	}

	if _, err := r.api.RevokeChatInviteLink(ctx, &bot.RevokeChatInviteLinkParams{
		ChatID:     r.mainChatID,
		InviteLink: decision.Token,
	}); err != nil {
		r.logger.WithField("event", "join_revoke_failed").WithError(err).Warn("failed to revoke consumed invite link")
	}

	r.sendHTML(ctx, r.mainChatID, mainGroupWelcome(req.From))

	// Unbanning a member who is present expels them without a ban; this is
	// how a bot removes someone from a group.
	if _, err := r.api.UnbanChatMember(ctx, &bot.UnbanChatMemberParams{
		ChatID: r.waitingRoomChatID,
		UserID: req.From.ID,
	}); err != nil {
		r.logger.WithField("event", "waiting_room_expel_failed").WithError(err).Warn("failed to remove user from waiting room")
	}

	r.logger.WithFields(logging.Fields{
		"event":   "member_admitted",
		"user_id": req.From.ID,
	}).Info("admitted user to main chat")
}
