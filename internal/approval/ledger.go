// Package approval implements the join-approval state machine: outstanding
// admin-issued invite tokens keyed by user handle, and resolution of join
// requests against them.
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tg_gatekeeper_bot/internal/config"
	"tg_gatekeeper_bot/internal/domain"
	"tg_gatekeeper_bot/internal/logging"
)

const (
	// AnonymousAdminHandle is the proxy identity Telegram substitutes for
	// admins posting anonymously in a group. Only this identity may approve,
	// which restricts /approve to the waiting room's own admins.
	AnonymousAdminHandle = "GroupAnonymousBot"

	// DefaultValidity is how long an issued invite link stays redeemable.
	DefaultValidity = 5 * time.Minute
)

// InviteIssuer is the platform subset the ledger needs: issuing and revoking
// invite links for a chat.
type InviteIssuer interface {
	CreateInviteLink(ctx context.Context, chatID int64, validFor time.Duration) (string, error)
	RevokeInviteLink(ctx context.Context, chatID int64, link string) error
}

// Ledger tracks at most one outstanding invite token per user handle and
// decides join requests against them. State is memory-resident and lost on
// restart; abandoned entries are never redeemable once their link expires at
// the platform.
type Ledger struct {
	invites InviteIssuer
	logger  *logrus.Entry

	mainChatID int64
	authority  string
	validity   time.Duration

	mu      sync.Mutex
	entries map[string]string // user handle -> invite token
}

// NewLedger constructs a Ledger scoped to the configured main chat.
func NewLedger(cfg config.Config, invites InviteIssuer, logger *logrus.Entry) *Ledger {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Ledger{
		invites:    invites,
		logger:     logger,
		mainChatID: cfg.MainChatID,
		authority:  AnonymousAdminHandle,
		validity:   DefaultValidity,
		entries:    make(map[string]string),
	}
}

// Approve issues a fresh single-use invite token for the single target handle
// and records it. A live entry for the same handle is invalidated first:
// its link is revoked at the platform and the entry replaced, so an earlier
// token can never admit anyone once a newer one exists.
func (l *Ledger) Approve(ctx context.Context, callerHandle string, targets []string) (string, error) {
	if l == nil || l.invites == nil {
		return "", errors.New("approval ledger is not initialized")
	}
	if ctx == nil {
		return "", errors.New("context is required")
	}

	if callerHandle != l.authority {
		return "", fmt.Errorf("approval requires the %s identity: %w", l.authority, domain.ErrNotAuthorized)
	}

	if len(targets) != 1 {
		return "", fmt.Errorf("exactly one user handle must be supplied: %w", domain.ErrInvalidArgument)
	}

	target := normalizeHandle(targets[0])
	if target == "" {
		return "", fmt.Errorf("target must be an @handle: %w", domain.ErrInvalidArgument)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if prior, ok := l.entries[target]; ok {
		if err := l.invites.RevokeInviteLink(ctx, l.mainChatID, prior); err != nil {
			// The replaced entry is removed regardless: a token the ledger no
			// longer records can only resolve to a decline.
			l.logger.WithFields(logging.Fields{
				"event":  "approval_revoke_failed",
				"handle": target,
			}).WithError(err).Warn("failed to revoke replaced invite link")
		}
		delete(l.entries, target)
	}

	token, err := l.invites.CreateInviteLink(ctx, l.mainChatID, l.validity)
	if err != nil {
		return "", fmt.Errorf("issue invite link: %w: %w", domain.ErrUpstreamUnavailable, err)
	}

	if l.entries == nil {
		l.entries = make(map[string]string)
	}
	l.entries[target] = token

	l.logger.WithFields(logging.Fields{
		"event":       "approval_issued",
		"handle":      target,
		"outstanding": len(l.entries),
	}).Info("issued invite token")

	return token, nil
}

// ResolveJoinRequest decides a join request. Accepting consumes the entry, so
// a replayed token resolves to an unapproved decline; the platform-facing
// side effects (approve, revoke, welcome, expel) are the caller's to perform
// exactly once per accepting decision.
func (l *Ledger) ResolveJoinRequest(chatID int64, handle, presented string) domain.Decision {
	if l == nil {
		return domain.Declined(domain.DeclineUnapproved)
	}

	if chatID != l.mainChatID {
		return domain.Declined(domain.DeclineWrongChat)
	}

	key := normalizeHandle(handle)

	l.mu.Lock()
	defer l.mu.Unlock()

	recorded, ok := l.entries[key]
	if !ok {
		l.logger.WithFields(logging.Fields{
			"event":  "join_declined",
			"handle": key,
			"reason": domain.DeclineUnapproved.String(),
		}).Debug("declined join request")
		return domain.Declined(domain.DeclineUnapproved)
	}

	if presented != recorded {
		l.logger.WithFields(logging.Fields{
			"event":  "join_declined",
			"handle": key,
			"reason": domain.DeclineTokenMismatch.String(),
		}).Debug("declined join request")
		return domain.Declined(domain.DeclineTokenMismatch)
	}

	delete(l.entries, key)

	l.logger.WithFields(logging.Fields{
		"event":       "join_accepted",
		"handle":      key,
		"outstanding": len(l.entries),
	}).Info("accepted join request")

	return domain.Accepted(recorded)
}

// Outstanding reports how many approvals are waiting to be redeemed.
func (l *Ledger) Outstanding() int {
	if l == nil {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.entries)
}

// normalizeHandle lowercases an @handle so the mention an admin typed matches
// the canonical username a join request carries. Telegram usernames are
// case-insensitive.
func normalizeHandle(handle string) string {
	handle = strings.ToLower(strings.TrimSpace(handle))
	if len(handle) < 2 || !strings.HasPrefix(handle, "@") {
		return ""
	}

	return handle
}
