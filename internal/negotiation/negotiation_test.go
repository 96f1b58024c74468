package negotiation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/negotiator/internal/adapter/classifier"
	"github.com/xiaot623/gogo/negotiator/internal/config"
	"github.com/xiaot623/gogo/negotiator/internal/domain"
	"github.com/xiaot623/gogo/negotiator/internal/realtime"
	"github.com/xiaot623/gogo/negotiator/internal/service"
	"github.com/xiaot623/gogo/negotiator/policy"
	"github.com/xiaot623/gogo/negotiator/tests/helpers"
)

func newBackend(t *testing.T) (*service.Service, *realtime.Broker) {
	t.Helper()
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	feed := realtime.NewBroker(0, nil)
	svc := service.New(helpers.NewTestSQLiteStore(t), feed, classifier.NewMockClient(), engine,
		&config.Config{ClassifierTimeout: time.Second}, nil)
	t.Cleanup(svc.Wait)
	return svc, feed
}

func newParty(t *testing.T, svc *service.Service, feed *realtime.Broker) *Party {
	t.Helper()
	p := NewParty(svc, feed, nil, nil)
	t.Cleanup(p.Leave)
	return p
}

func TestInviteLinkRoundTrip(t *testing.T) {
	link, err := InviteLink("https://negotiator.example/app", "abc-123", domain.RolePartyA)
	require.NoError(t, err)
	assert.Equal(t, "https://negotiator.example/app?role=party_b&session=abc-123", link)

	sessionID, role, err := ParseInviteLink(link)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", sessionID)
	assert.Equal(t, domain.RolePartyB, role)

	sessionID, role, err = ParseInviteLink("session=xyz&role=party_a")
	require.NoError(t, err)
	assert.Equal(t, "xyz", sessionID)
	assert.Equal(t, domain.RolePartyA, role)
}

func TestParseInviteLinkErrors(t *testing.T) {
	for _, link := range []string{
		"https://negotiator.example/?role=party_b",
		"https://negotiator.example/?session=abc&role=judge",
		"?session=abc",
	} {
		_, _, err := ParseInviteLink(link)
		assert.ErrorIs(t, err, domain.ErrValidation, link)
	}

	_, err := InviteLink("https://x", "", domain.RolePartyA)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = InviteLink("https://x", "abc", "judge")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestActionsRequireJoin(t *testing.T) {
	svc, feed := newBackend(t)
	p := newParty(t, svc, feed)
	ctx := context.Background()

	_, err := p.SendMessage(ctx, "hello", domain.LanguageEnglish)
	assert.ErrorIs(t, err, ErrNotJoined)
	_, err = p.ProposeTerm(ctx, "Payment", "5000")
	assert.ErrorIs(t, err, ErrNotJoined)
	_, err = p.Ratify(ctx)
	assert.ErrorIs(t, err, ErrNotJoined)
	_, ok := p.Snapshot()
	assert.False(t, ok)

	assert.ErrorIs(t, p.Join(ctx, "", domain.RolePartyA), domain.ErrValidation)
	assert.ErrorIs(t, p.Join(ctx, "abc", "judge"), domain.ErrValidation)
	assert.ErrorIs(t, p.Join(ctx, "missing", domain.RolePartyA), domain.ErrNotFound)
	assert.Empty(t, p.SessionID())
}

func TestEmptyDraftNeverReachesBackend(t *testing.T) {
	svc, feed := newBackend(t)
	p := newParty(t, svc, feed)
	ctx := context.Background()
	session, err := p.Create(ctx, "Smith v. Jones", domain.RolePartyA)
	require.NoError(t, err)

	_, err = p.SendMessage(ctx, "   ", domain.LanguageEnglish)
	assert.ErrorIs(t, err, domain.ErrValidation)

	messages, err := svc.GetMessages(ctx, session.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestSwitchingSessionReleasesSubscriptions(t *testing.T) {
	svc, feed := newBackend(t)
	p := newParty(t, svc, feed)
	ctx := context.Background()

	x, err := p.Create(ctx, "Case X", domain.RolePartyA)
	require.NoError(t, err)
	assert.Equal(t, 3, feed.SubscriberCount())

	y, err := svc.CreateSession(ctx, domain.CreateSessionRequest{CaseName: "Case Y"})
	require.NoError(t, err)
	require.NoError(t, p.Join(ctx, y.ID, domain.RolePartyB))
	assert.Equal(t, 3, feed.SubscriberCount())
	assert.Equal(t, y.ID, p.SessionID())
	assert.Equal(t, domain.RolePartyB, p.Role())

	_, err = svc.SendMessage(ctx, x.ID, domain.SendMessageRequest{
		SenderRole: domain.RolePartyA, Content: "late for X", LanguageCode: domain.LanguageEnglish,
	})
	require.NoError(t, err)
	svc.Wait()

	snap, ok := p.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "Case Y", snap.Session.CaseName)
	assert.Empty(t, snap.Messages)

	p.Leave()
	assert.Equal(t, 0, feed.SubscriberCount())
}

func TestNegotiationToRatification(t *testing.T) {
	svc, feed := newBackend(t)
	ctx := context.Background()

	alice := newParty(t, svc, feed)
	session, err := alice.Create(ctx, "Smith v. Jones", domain.RolePartyA)
	require.NoError(t, err)

	link, err := alice.InviteLink("http://localhost:8080/")
	require.NoError(t, err)

	bob := newParty(t, svc, feed)
	require.NoError(t, bob.JoinLink(ctx, link))
	assert.Equal(t, session.ID, bob.SessionID())
	assert.Equal(t, domain.RolePartyB, bob.Role())

	_, err = alice.SendMessage(ctx, "I offer 5000", domain.LanguageEnglish)
	require.NoError(t, err)

	var ids []string
	for _, title := range []string{"Payment", "Confidentiality", "Release"} {
		term, err := alice.ProposeTerm(ctx, title, title+" terms")
		require.NoError(t, err)
		ids = append(ids, term.ID)
	}
	_, err = bob.SetTermStatus(ctx, ids[0], domain.TermStatusAccepted, 0)
	require.NoError(t, err)
	_, err = bob.SetTermStatus(ctx, ids[1], domain.TermStatusAccepted, 0)
	require.NoError(t, err)
	_, err = bob.SetTermStatus(ctx, ids[2], domain.TermStatusDisputed, 1)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, _ := alice.Snapshot()
		return len(snap.Terms) == 3 && snap.Terms[2].Status == domain.TermStatusDisputed
	}, 2*time.Second, 10*time.Millisecond)

	res, err := alice.Ratify(ctx)
	require.NoError(t, err)
	assert.False(t, res.Ratified)

	_, err = alice.SetTermStatus(ctx, ids[2], domain.TermStatusAccepted, 2)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap, _ := alice.Snapshot()
		return snap.CanRatify
	}, 2*time.Second, 10*time.Millisecond)

	res, err = alice.Ratify(ctx)
	require.NoError(t, err)
	assert.True(t, res.Ratified)

	require.Eventually(t, func() bool {
		snap, _ := bob.Snapshot()
		return snap.Session != nil && snap.Session.Status == domain.SessionStatusRatified
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		snap, _ := bob.Snapshot()
		return len(snap.Messages) == 1 && snap.Messages[0].ContentTranslated != nil
	}, 2*time.Second, 10*time.Millisecond)
	snap, _ := bob.Snapshot()
	assert.Equal(t, domain.IntentOffer, snap.Messages[0].Intent)
}
