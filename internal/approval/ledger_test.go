package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"tg_gatekeeper_bot/internal/config"
	"tg_gatekeeper_bot/internal/domain"
)

const mainChatID = int64(-1001)

func newTestLedger(t *testing.T, invites InviteIssuer) *Ledger {
	t.Helper()

	hookLogger, _ := logtest.NewNullLogger()
	cfg := config.Config{MainChatID: mainChatID}

	return NewLedger(cfg, invites, logrus.NewEntry(hookLogger))
}

func TestApproveIssuesAndJoinConsumes(t *testing.T) {
	issuer := newFakeIssuer()
	ledger := newTestLedger(t, issuer)

	token, err := ledger.Approve(context.Background(), AnonymousAdminHandle, []string{"@bob"})
	if err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}
	if token != "link-1" {
		t.Fatalf("expected first issued link, got %q", token)
	}
	if issuer.created[0].chatID != mainChatID {
		t.Fatalf("expected link scoped to main chat, got %d", issuer.created[0].chatID)
	}
	if issuer.created[0].validFor != DefaultValidity {
		t.Fatalf("expected %v validity, got %v", DefaultValidity, issuer.created[0].validFor)
	}

	wrong := ledger.ResolveJoinRequest(mainChatID, "@bob", "link-not-issued")
	if wrong.Accept || wrong.Reason != domain.DeclineTokenMismatch {
		t.Fatalf("expected token mismatch decline, got %+v", wrong)
	}
	if ledger.Outstanding() != 1 {
		t.Fatalf("mismatch must not consume the entry, outstanding=%d", ledger.Outstanding())
	}

	accepted := ledger.ResolveJoinRequest(mainChatID, "@bob", token)
	if !accepted.Accept || accepted.Token != token {
		t.Fatalf("expected accept consuming %q, got %+v", token, accepted)
	}

	replay := ledger.ResolveJoinRequest(mainChatID, "@bob", token)
	if replay.Accept || replay.Reason != domain.DeclineUnapproved {
		t.Fatalf("expected replay to decline unapproved, got %+v", replay)
	}

	if ledger.Outstanding() != 0 {
		t.Fatalf("expected empty ledger after accept, outstanding=%d", ledger.Outstanding())
	}
}

func TestApproveReplacesAndRevokesPriorToken(t *testing.T) {
	issuer := newFakeIssuer()
	ledger := newTestLedger(t, issuer)

	first, err := ledger.Approve(context.Background(), AnonymousAdminHandle, []string{"@bob"})
	if err != nil {
		t.Fatalf("first Approve returned error: %v", err)
	}

	second, err := ledger.Approve(context.Background(), AnonymousAdminHandle, []string{"@bob"})
	if err != nil {
		t.Fatalf("second Approve returned error: %v", err)
	}
	if first == second {
		t.Fatalf("expected a fresh token on re-approval")
	}

	if len(issuer.revoked) != 1 || issuer.revoked[0] != first {
		t.Fatalf("expected first link to be revoked at the platform, revoked=%v", issuer.revoked)
	}

	stale := ledger.ResolveJoinRequest(mainChatID, "@bob", first)
	if stale.Accept || stale.Reason != domain.DeclineTokenMismatch {
		t.Fatalf("expected replaced token to decline, got %+v", stale)
	}

	fresh := ledger.ResolveJoinRequest(mainChatID, "@bob", second)
	if !fresh.Accept {
		t.Fatalf("expected replacing token to accept, got %+v", fresh)
	}

	if ledger.Outstanding() != 0 {
		t.Fatalf("expected at most one live entry per handle, outstanding=%d", ledger.Outstanding())
	}
}

func TestApproveSurvivesRevokeFailure(t *testing.T) {
	issuer := newFakeIssuer()
	issuer.revokeErr = errors.New("link already revoked")
	ledger := newTestLedger(t, issuer)

	first, err := ledger.Approve(context.Background(), AnonymousAdminHandle, []string{"@bob"})
	if err != nil {
		t.Fatalf("first Approve returned error: %v", err)
	}

	second, err := ledger.Approve(context.Background(), AnonymousAdminHandle, []string{"@bob"})
	if err != nil {
		t.Fatalf("expected re-approval to succeed despite revoke failure, got %v", err)
	}

	if decision := ledger.ResolveJoinRequest(mainChatID, "@bob", first); decision.Accept {
		t.Fatalf("unrevoked stale token must still decline, got %+v", decision)
	}

	if decision := ledger.ResolveJoinRequest(mainChatID, "@bob", second); !decision.Accept {
		t.Fatalf("expected fresh token to accept, got %+v", decision)
	}
}

func TestApproveRejectsUnknownCaller(t *testing.T) {
	issuer := newFakeIssuer()
	ledger := newTestLedger(t, issuer)

	_, err := ledger.Approve(context.Background(), "@mallory", []string{"@bob"})
	if !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}

	if len(issuer.created) != 0 {
		t.Fatalf("unauthorized approval must not issue links, created=%d", len(issuer.created))
	}
}

func TestApproveValidatesTargets(t *testing.T) {
	issuer := newFakeIssuer()
	ledger := newTestLedger(t, issuer)

	cases := [][]string{
		nil,
		{},
		{"@bob", "@alice"},
		{"bob"},
		{"@"},
	}

	for _, targets := range cases {
		if _, err := ledger.Approve(context.Background(), AnonymousAdminHandle, targets); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument for targets %v, got %v", targets, err)
		}
	}

	if len(issuer.created) != 0 {
		t.Fatalf("invalid approvals must not issue links, created=%d", len(issuer.created))
	}
}

func TestApprovePropagatesIssueFailure(t *testing.T) {
	issuer := newFakeIssuer()
	issuer.createErr = errors.New("telegram says no")
	ledger := newTestLedger(t, issuer)

	_, err := ledger.Approve(context.Background(), AnonymousAdminHandle, []string{"@bob"})
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}

	if ledger.Outstanding() != 0 {
		t.Fatalf("failed issue must not record an entry, outstanding=%d", ledger.Outstanding())
	}
}

func TestResolveDeclinesWrongChatRegardlessOfState(t *testing.T) {
	issuer := newFakeIssuer()
	ledger := newTestLedger(t, issuer)

	token, err := ledger.Approve(context.Background(), AnonymousAdminHandle, []string{"@bob"})
	if err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}

	decision := ledger.ResolveJoinRequest(-2002, "@bob", token)
	if decision.Accept || decision.Reason != domain.DeclineWrongChat {
		t.Fatalf("expected wrong chat decline, got %+v", decision)
	}

	if ledger.Outstanding() != 1 {
		t.Fatalf("wrong chat must not consume the entry, outstanding=%d", ledger.Outstanding())
	}
}

func TestResolveMatchesHandlesCaseInsensitively(t *testing.T) {
	issuer := newFakeIssuer()
	ledger := newTestLedger(t, issuer)

	token, err := ledger.Approve(context.Background(), AnonymousAdminHandle, []string{"@Bob"})
	if err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}

	decision := ledger.ResolveJoinRequest(mainChatID, "@bob", token)
	if !decision.Accept {
		t.Fatalf("expected case-insensitive handle match, got %+v", decision)
	}
}

func TestResolveAcceptsAtMostOncePerToken(t *testing.T) {
	issuer := newFakeIssuer()
	ledger := newTestLedger(t, issuer)

	token, err := ledger.Approve(context.Background(), AnonymousAdminHandle, []string{"@bob"})
	if err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}

	const attempts = 16

	var wg sync.WaitGroup
	decisions := make([]domain.Decision, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			decisions[slot] = ledger.ResolveJoinRequest(mainChatID, "@bob", token)
		}(i)
	}
	wg.Wait()

	accepts := 0
	for _, decision := range decisions {
		if decision.Accept {
			accepts++
		}
	}

	if accepts != 1 {
		t.Fatalf("expected exactly one accept across concurrent resolutions, got %d", accepts)
	}
}

type issuedLink struct {
	chatID   int64
	validFor time.Duration
}

type fakeIssuer struct {
	mu        sync.Mutex
	created   []issuedLink
	revoked   []string
	createErr error
	revokeErr error
}

func newFakeIssuer() *fakeIssuer {
	return &fakeIssuer{}
}

func (f *fakeIssuer) CreateInviteLink(_ context.Context, chatID int64, validFor time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return "", f.createErr
	}

	f.created = append(f.created, issuedLink{chatID: chatID, validFor: validFor})
	return fmt.Sprintf("link-%d", len(f.created)), nil
}

func (f *fakeIssuer) RevokeInviteLink(_ context.Context, _ int64, link string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.revokeErr != nil {
		return f.revokeErr
	}

	f.revoked = append(f.revoked, link)
	return nil
}
