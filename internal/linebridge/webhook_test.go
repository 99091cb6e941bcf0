package linebridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/aifriendshub/agenthub/internal/exchange"
	"github.com/aifriendshub/agenthub/internal/identity"
	"github.com/aifriendshub/agenthub/internal/ledger"
	"github.com/aifriendshub/agenthub/internal/store"
)

const (
	testSecret = "line-channel-secret"
	testAgent  = "agent-1"
	testOwner  = "owner-1"
)

type memAccounts struct {
	balances map[string]int64
	debits   []int64
}

func (m *memAccounts) Get(ctx context.Context, id string) (*store.AccountData, error) {
	return nil, store.ErrNotFound
}

func (m *memAccounts) Balance(ctx context.Context, id string) (int64, error) {
	b, ok := m.balances[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	return b, nil
}

func (m *memAccounts) ApplyDelta(ctx context.Context, id string, delta int64, reason, opID string) (int64, bool, error) {
	b, ok := m.balances[id]
	if !ok {
		return 0, false, store.ErrNotFound
	}
	m.balances[id] = b + delta
	m.debits = append(m.debits, delta)
	return m.balances[id], true, nil
}

func (m *memAccounts) Provision(ctx context.Context, id, email string, starting int64) (int64, error) {
	return starting, nil
}

func (m *memAccounts) ProvisionWithDelta(ctx context.Context, id, email string, starting, delta int64, reason, opID string) (int64, error) {
	return starting + delta, nil
}

func (m *memAccounts) Entries(ctx context.Context, id string, limit int) ([]store.LedgerEntry, error) {
	return nil, nil
}

type noIdentity struct{}

func (noIdentity) Lookup(ctx context.Context, id string) (*identity.User, error) {
	return nil, identity.ErrUnknownAccount
}

type stubAgents struct{ agent *store.AgentData }

func (s *stubAgents) Get(ctx context.Context, id string) (*store.AgentData, error) {
	if s.agent == nil || s.agent.AgentID != id {
		return nil, store.ErrNotFound
	}
	return s.agent, nil
}

func (s *stubAgents) List(ctx context.Context, category string) ([]store.AgentData, error) {
	return nil, nil
}

func (s *stubAgents) BumpUsage(ctx context.Context, id string, firstContact bool) error {
	return nil
}

type stubConfigs struct{ cfg *store.ChannelConfigData }

func (s *stubConfigs) Get(ctx context.Context, agentID, channelType string) (*store.ChannelConfigData, error) {
	if s.cfg == nil {
		return nil, store.ErrNotFound
	}
	return s.cfg, nil
}

func (s *stubConfigs) Upsert(ctx context.Context, cfg *store.ChannelConfigData) error {
	return nil
}

type stubConvs struct{}

func (stubConvs) Ensure(ctx context.Context, accountID, agentID string, existing uuid.UUID) (uuid.UUID, bool, error) {
	return store.GenNewID(), false, nil
}

func (stubConvs) LatestFor(ctx context.Context, accountID, agentID string) (uuid.UUID, error) {
	return uuid.Nil, store.ErrNotFound
}

func (stubConvs) AppendMessage(ctx context.Context, convID uuid.UUID, accountID, content, role string) (uuid.UUID, error) {
	return store.GenNewID(), nil
}

func (stubConvs) History(ctx context.Context, convID uuid.UUID, limit int) ([]store.MessageData, error) {
	return nil, nil
}

type stubConversing struct {
	replies  []string
	requests []exchange.Request
	err      error
}

func (s *stubConversing) Converse(ctx context.Context, req exchange.Request) (*exchange.Result, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	s.replies = append(s.replies, "echo: "+req.Content)
	return &exchange.Result{Reply: "echo: " + req.Content}, nil
}

type stubReplier struct {
	sent []string
	err  error
}

func (s *stubReplier) Reply(ctx context.Context, accessToken, replyToken, text string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, text)
	return nil
}

type bridgeFixture struct {
	handler  *Handler
	accounts *memAccounts
	orch     *stubConversing
	replier  *stubReplier
}

func newBridgeFixture(ownerBalance int64, opts Options) *bridgeFixture {
	accounts := &memAccounts{balances: map[string]int64{testOwner: ownerBalance}}
	lg := ledger.New(accounts, noIdentity{}, 1000)
	orch := &stubConversing{}
	replier := &stubReplier{}
	handler := NewHandler(orch, lg,
		&stubAgents{agent: &store.AgentData{AgentID: testAgent, OwnerID: testOwner, AgentName: "Mika"}},
		&stubConfigs{cfg: &store.ChannelConfigData{
			AgentID: testAgent, ChannelType: store.ChannelTypeLine,
			SecretToken: testSecret, AccessToken: "access-token",
		}},
		stubConvs{}, replier, opts)
	return &bridgeFixture{handler: handler, accounts: accounts, orch: orch, replier: replier}
}

func lineBody(texts ...string) []byte {
	var events []map[string]any
	for i, text := range texts {
		events = append(events, map[string]any{
			"type":       "message",
			"replyToken": "token",
			"source":     map[string]string{"type": "user", "userId": "U1234"},
			"message":    map[string]any{"type": "text", "id": string(rune('a' + i)), "text": text},
		})
	}
	body, _ := json.Marshal(map[string]any{"events": events})
	return body
}

func postWebhook(h *Handler, agentID string, body []byte, signature string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.Register(mux)
	req := httptest.NewRequest(http.MethodPost, "/line-webhook/"+agentID, bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Line-Signature", signature)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestWebhookHappyPath(t *testing.T) {
	f := newBridgeFixture(100, Options{ChannelFee: 5, FeeAfterVerify: true})
	body := lineBody("hello")

	rec := postWebhook(f.handler, testAgent, body, sign(testSecret, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if got := f.accounts.balances[testOwner]; got != 95 {
		t.Errorf("owner balance = %d, want 95", got)
	}
	if len(f.replier.sent) != 1 || f.replier.sent[0] != "echo: hello" {
		t.Errorf("replies sent = %v", f.replier.sent)
	}
	if f.orch.requests[0].AccountID != "U1234" {
		t.Errorf("conversed as %q, want LINE user id", f.orch.requests[0].AccountID)
	}
}

func TestWebhookInvalidSignature(t *testing.T) {
	f := newBridgeFixture(100, Options{ChannelFee: 5, FeeAfterVerify: true})
	body := lineBody("hello")

	rec := postWebhook(f.handler, testAgent, body, sign("wrong-secret", body))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	// Forged request, fee-after-verify: the owner pays nothing.
	if got := f.accounts.balances[testOwner]; got != 100 {
		t.Errorf("owner balance = %d, want 100", got)
	}
	if len(f.replier.sent) != 0 {
		t.Error("reply sent for forged request")
	}
}

func TestWebhookFeeBeforeVerify(t *testing.T) {
	f := newBridgeFixture(100, Options{ChannelFee: 5, FeeAfterVerify: false})
	body := lineBody("hello")

	rec := postWebhook(f.handler, testAgent, body, sign("wrong-secret", body))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	// Legacy order: the fee lands even though the signature failed.
	if got := f.accounts.balances[testOwner]; got != 95 {
		t.Errorf("owner balance = %d, want 95", got)
	}
}

func TestWebhookOwnerCannotCoverFee(t *testing.T) {
	f := newBridgeFixture(3, Options{ChannelFee: 5, FeeAfterVerify: true})
	body := lineBody("hello")

	rec := postWebhook(f.handler, testAgent, body, sign(testSecret, body))
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	if got := f.accounts.balances[testOwner]; got != 3 {
		t.Errorf("owner balance = %d, want 3", got)
	}
	if len(f.replier.sent) != 0 {
		t.Error("reply sent without fee")
	}
}

func TestWebhookProcessesAllTextEvents(t *testing.T) {
	f := newBridgeFixture(100, Options{ChannelFee: 5, FeeAfterVerify: true})
	body := lineBody("first", "second", "third")

	rec := postWebhook(f.handler, testAgent, body, sign(testSecret, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(f.replier.sent) != 3 {
		t.Fatalf("replies sent = %d, want 3", len(f.replier.sent))
	}
	if f.replier.sent[2] != "echo: third" {
		t.Errorf("third reply = %q", f.replier.sent[2])
	}
	// One fee per delivery, not per event.
	if got := f.accounts.balances[testOwner]; got != 95 {
		t.Errorf("owner balance = %d, want 95", got)
	}
}

func TestWebhookSkipsNonTextEvents(t *testing.T) {
	f := newBridgeFixture(100, Options{ChannelFee: 5, FeeAfterVerify: true})
	body, _ := json.Marshal(map[string]any{"events": []map[string]any{
		{"type": "follow", "source": map[string]string{"userId": "U1"}},
		{"type": "message", "replyToken": "t", "source": map[string]string{"userId": "U1"},
			"message": map[string]any{"type": "sticker", "id": "s1"}},
		{"type": "message", "replyToken": "t", "source": map[string]string{"userId": "U1"},
			"message": map[string]any{"type": "text", "id": "m1", "text": "real one"}},
	}})

	rec := postWebhook(f.handler, testAgent, body, sign(testSecret, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(f.replier.sent) != 1 {
		t.Errorf("replies sent = %d, want 1", len(f.replier.sent))
	}
}

func TestWebhookUnknownAgent(t *testing.T) {
	f := newBridgeFixture(100, Options{ChannelFee: 5, FeeAfterVerify: true})
	body := lineBody("hello")

	rec := postWebhook(f.handler, "missing-agent", body, sign(testSecret, body))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestWebhookChannelNotConfigured(t *testing.T) {
	accounts := &memAccounts{balances: map[string]int64{testOwner: 100}}
	lg := ledger.New(accounts, noIdentity{}, 1000)
	handler := NewHandler(&stubConversing{}, lg,
		&stubAgents{agent: &store.AgentData{AgentID: testAgent, OwnerID: testOwner}},
		&stubConfigs{}, stubConvs{}, &stubReplier{},
		Options{ChannelFee: 5, FeeAfterVerify: true})
	body := lineBody("hello")

	rec := postWebhook(handler, testAgent, body, sign(testSecret, body))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestWebhookGenerationFailureStill200(t *testing.T) {
	f := newBridgeFixture(100, Options{ChannelFee: 5, FeeAfterVerify: true})
	f.orch.err = errors.New("provider down")
	body := lineBody("hello")

	// The delivery is acknowledged so LINE stops retrying; the failed
	// event is logged and dropped.
	rec := postWebhook(f.handler, testAgent, body, sign(testSecret, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(f.replier.sent) != 0 {
		t.Error("reply sent despite generation failure")
	}
}
