package exchange

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/aifriendshub/agenthub/internal/identity"
	"github.com/aifriendshub/agenthub/internal/ledger"
	"github.com/aifriendshub/agenthub/internal/providers"
	"github.com/aifriendshub/agenthub/internal/store"
)

type appliedOp struct {
	accountID string
	delta     int64
	reason    string
	opID      string
}

type fakeAccounts struct {
	balances map[string]int64
	ops      []appliedOp
	seenOps  map[string]bool
	failOn   string // reason substring that triggers an error
}

func newFakeAccounts(balances map[string]int64) *fakeAccounts {
	return &fakeAccounts{balances: balances, seenOps: make(map[string]bool)}
}

func (f *fakeAccounts) Get(ctx context.Context, id string) (*store.AccountData, error) {
	b, ok := f.balances[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &store.AccountData{ID: id, Balance: b}, nil
}

func (f *fakeAccounts) Balance(ctx context.Context, id string) (int64, error) {
	b, ok := f.balances[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	return b, nil
}

func (f *fakeAccounts) ApplyDelta(ctx context.Context, id string, delta int64, reason, opID string) (int64, bool, error) {
	if f.failOn != "" && strings.Contains(reason, f.failOn) {
		return 0, false, errors.New("store down")
	}
	b, ok := f.balances[id]
	if !ok {
		return 0, false, store.ErrNotFound
	}
	if opID != "" {
		if f.seenOps[opID] {
			return b, false, nil
		}
		f.seenOps[opID] = true
	}
	f.balances[id] = b + delta
	f.ops = append(f.ops, appliedOp{id, delta, reason, opID})
	return f.balances[id], true, nil
}

func (f *fakeAccounts) Provision(ctx context.Context, id, email string, starting int64) (int64, error) {
	if _, ok := f.balances[id]; !ok {
		f.balances[id] = starting
	}
	return f.balances[id], nil
}

func (f *fakeAccounts) ProvisionWithDelta(ctx context.Context, id, email string, starting, delta int64, reason, opID string) (int64, error) {
	if _, ok := f.balances[id]; !ok {
		f.balances[id] = starting
	}
	b, _, err := f.ApplyDelta(ctx, id, delta, reason, opID)
	return b, err
}

func (f *fakeAccounts) Entries(ctx context.Context, id string, limit int) ([]store.LedgerEntry, error) {
	return nil, nil
}

type fakeIdentity struct{ known map[string]bool }

func (f *fakeIdentity) Lookup(ctx context.Context, id string) (*identity.User, error) {
	if !f.known[id] {
		return nil, identity.ErrUnknownAccount
	}
	return &identity.User{ID: id, Email: id + "@example.com"}, nil
}

type fakeAgents struct {
	agents map[string]*store.AgentData
	bumped int
}

func (f *fakeAgents) Get(ctx context.Context, id string) (*store.AgentData, error) {
	a, ok := f.agents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (f *fakeAgents) List(ctx context.Context, category string) ([]store.AgentData, error) {
	return nil, nil
}

func (f *fakeAgents) BumpUsage(ctx context.Context, id string, firstContact bool) error {
	f.bumped++
	return nil
}

type fakeConvs struct {
	messages   []store.MessageData
	history    []store.MessageData
	failEnsure bool
}

func (f *fakeConvs) Ensure(ctx context.Context, accountID, agentID string, existing uuid.UUID) (uuid.UUID, bool, error) {
	if f.failEnsure {
		return uuid.Nil, false, errors.New("conversations table down")
	}
	if existing != uuid.Nil {
		return existing, false, nil
	}
	return store.GenNewID(), true, nil
}

func (f *fakeConvs) LatestFor(ctx context.Context, accountID, agentID string) (uuid.UUID, error) {
	return uuid.Nil, store.ErrNotFound
}

func (f *fakeConvs) AppendMessage(ctx context.Context, convID uuid.UUID, accountID, content, role string) (uuid.UUID, error) {
	f.messages = append(f.messages, store.MessageData{ConversationID: convID, AccountID: accountID, Content: content, Role: role})
	return store.GenNewID(), nil
}

func (f *fakeConvs) History(ctx context.Context, convID uuid.UUID, limit int) ([]store.MessageData, error) {
	return f.history, nil
}

type fakeProvider struct {
	reply    string
	err      error
	lastReq  providers.ChatRequest
	numCalls int
}

func (f *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	f.lastReq = req
	f.numCalls++
	if f.err != nil {
		return nil, f.err
	}
	return &providers.ChatResponse{Content: f.reply, FinishReason: "stop"}, nil
}

func (f *fakeProvider) DefaultModel() string { return "test-model" }
func (f *fakeProvider) Name() string         { return "fake" }

const (
	testAgent = "agent-1"
	testOwner = "owner-1"
	testUser  = "user-1"
)

func testSetup(balance int64) (*Orchestrator, *fakeAccounts, *fakeAgents, *fakeConvs, *fakeProvider) {
	accounts := newFakeAccounts(map[string]int64{testUser: balance, testOwner: 100})
	lg := ledger.New(accounts, &fakeIdentity{known: map[string]bool{}}, 1000)
	agents := &fakeAgents{agents: map[string]*store.AgentData{
		testAgent: {AgentID: testAgent, OwnerID: testOwner, AgentName: "Mika", Personality: "cheerful"},
	}}
	convs := &fakeConvs{}
	provider := &fakeProvider{reply: "hello there"}
	orch := New(lg, provider, agents, convs, Pricing{MessageCost: 10, OwnerCredit: 5}, 20)
	return orch, accounts, agents, convs, provider
}

func TestExchangeHappyPath(t *testing.T) {
	orch, accounts, agents, convs, _ := testSetup(50)

	result, err := orch.Exchange(context.Background(), Request{
		AccountID: testUser, AgentID: testAgent, Content: "hi",
	})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if result.Reply != "hello there" {
		t.Errorf("reply = %q", result.Reply)
	}
	if result.Remaining != 40 {
		t.Errorf("remaining = %d, want 40", result.Remaining)
	}
	if got := accounts.balances[testUser]; got != 40 {
		t.Errorf("sender balance = %d, want 40", got)
	}
	if got := accounts.balances[testOwner]; got != 105 {
		t.Errorf("owner balance = %d, want 105", got)
	}
	if len(convs.messages) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(convs.messages))
	}
	if convs.messages[0].Role != store.RoleUser || convs.messages[1].Role != store.RoleAssistant {
		t.Errorf("message roles = %q, %q", convs.messages[0].Role, convs.messages[1].Role)
	}
	if agents.bumped != 1 {
		t.Errorf("usage bumped %d times, want 1", agents.bumped)
	}
	if result.ConversationID == uuid.Nil {
		t.Error("conversation id not assigned")
	}
}

func TestExchangeInsufficientFunds(t *testing.T) {
	orch, accounts, _, _, provider := testSetup(9)

	_, err := orch.Exchange(context.Background(), Request{
		AccountID: testUser, AgentID: testAgent, Content: "hi",
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if got := accounts.balances[testUser]; got != 9 {
		t.Errorf("balance changed to %d", got)
	}
	if provider.numCalls != 0 {
		t.Error("provider called despite insufficient funds")
	}
}

func TestExchangeBalanceExactlyAtCost(t *testing.T) {
	orch, accounts, _, _, _ := testSetup(10)

	result, err := orch.Exchange(context.Background(), Request{
		AccountID: testUser, AgentID: testAgent, Content: "hi",
	})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if result.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", result.Remaining)
	}
	if got := accounts.balances[testUser]; got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}
}

func TestExchangeAgentNotFoundRefunds(t *testing.T) {
	orch, accounts, _, _, _ := testSetup(50)

	_, err := orch.Exchange(context.Background(), Request{
		AccountID: testUser, AgentID: "missing", Content: "hi",
	})
	if !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("err = %v, want ErrAgentNotFound", err)
	}
	if got := accounts.balances[testUser]; got != 50 {
		t.Errorf("balance = %d after refund, want 50", got)
	}
}

func TestExchangeProviderFailureRefunds(t *testing.T) {
	orch, accounts, _, convs, provider := testSetup(50)
	provider.err = errors.New("upstream 500")

	_, err := orch.Exchange(context.Background(), Request{
		AccountID: testUser, AgentID: testAgent, Content: "hi",
	})
	var downstream *DownstreamError
	if !errors.As(err, &downstream) {
		t.Fatalf("err = %v, want DownstreamError", err)
	}
	if got := accounts.balances[testUser]; got != 50 {
		t.Errorf("balance = %d after refund, want 50", got)
	}
	if got := accounts.balances[testOwner]; got != 100 {
		t.Errorf("owner credited on failure, balance = %d", got)
	}
	if len(convs.messages) != 0 {
		t.Error("messages persisted for failed exchange")
	}

	// Debit and refund both hit the ledger and net to zero.
	if len(accounts.ops) != 2 {
		t.Fatalf("ledger ops = %+v, want debit+refund", accounts.ops)
	}
	if accounts.ops[0].delta != -10 || accounts.ops[1].delta != 10 {
		t.Errorf("ledger deltas = %d, %d", accounts.ops[0].delta, accounts.ops[1].delta)
	}
}

func TestExchangeEmptyReplyRefunds(t *testing.T) {
	orch, accounts, _, _, provider := testSetup(50)
	provider.reply = "   "

	_, err := orch.Exchange(context.Background(), Request{
		AccountID: testUser, AgentID: testAgent, Content: "hi",
	})
	var downstream *DownstreamError
	if !errors.As(err, &downstream) {
		t.Fatalf("err = %v, want DownstreamError", err)
	}
	if got := accounts.balances[testUser]; got != 50 {
		t.Errorf("balance = %d after refund, want 50", got)
	}
}

func TestExchangePersistenceFailureKeepsDebit(t *testing.T) {
	orch, accounts, _, convs, _ := testSetup(50)
	convs.failEnsure = true

	// The sender got their reply, so the debit stands even though the
	// thread could not be stored.
	result, err := orch.Exchange(context.Background(), Request{
		AccountID: testUser, AgentID: testAgent, Content: "hi",
	})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if result.Reply != "hello there" {
		t.Errorf("reply = %q", result.Reply)
	}
	if got := accounts.balances[testUser]; got != 40 {
		t.Errorf("balance = %d, want 40 (no refund)", got)
	}
	if got := accounts.balances[testOwner]; got != 105 {
		t.Errorf("owner balance = %d, want 105 (credit still paid)", got)
	}
	if result.ConversationID != uuid.Nil {
		t.Errorf("conversation id = %v, want Nil", result.ConversationID)
	}
}

func TestExchangeRefundFailureEscalates(t *testing.T) {
	orch, accounts, _, _, provider := testSetup(50)
	provider.err = errors.New("upstream 500")
	accounts.failOn = "Refund"

	_, err := orch.Exchange(context.Background(), Request{
		AccountID: testUser, AgentID: testAgent, Content: "hi",
	})
	var compErr *CompensationError
	if !errors.As(err, &compErr) {
		t.Fatalf("err = %v, want CompensationError", err)
	}
	if compErr.Cause == nil || compErr.RefundErr == nil {
		t.Error("compensation error missing cause or refund error")
	}
	// Debit stands until reconciled.
	if got := accounts.balances[testUser]; got != 40 {
		t.Errorf("balance = %d, want 40", got)
	}
}

func TestExchangeIdempotentDebit(t *testing.T) {
	orch, accounts, _, _, _ := testSetup(50)

	req := Request{AccountID: testUser, AgentID: testAgent, Content: "hi", RequestID: "req-1"}
	if _, err := orch.Exchange(context.Background(), req); err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	if _, err := orch.Exchange(context.Background(), req); err != nil {
		t.Fatalf("second exchange: %v", err)
	}

	// One debit and one owner credit despite two calls.
	var debits, credits int
	for _, op := range accounts.ops {
		switch {
		case op.opID == "req-1:debit":
			debits++
		case op.opID == "req-1:credit":
			credits++
		}
	}
	if debits != 1 || credits != 1 {
		t.Errorf("debits = %d, credits = %d, want 1 and 1", debits, credits)
	}
	if got := accounts.balances[testUser]; got != 40 {
		t.Errorf("balance = %d, want 40 (single debit)", got)
	}
}

func TestExchangeEmptyContent(t *testing.T) {
	orch, _, _, _, _ := testSetup(50)

	for _, content := range []string{"", "   ", "\n\t"} {
		_, err := orch.Exchange(context.Background(), Request{
			AccountID: testUser, AgentID: testAgent, Content: content,
		})
		if !errors.Is(err, ErrEmptyContent) {
			t.Errorf("content %q: err = %v, want ErrEmptyContent", content, err)
		}
	}
}

func TestExchangeUnknownAccount(t *testing.T) {
	orch, _, _, _, _ := testSetup(50)

	_, err := orch.Exchange(context.Background(), Request{
		AccountID: "nobody", AgentID: testAgent, Content: "hi",
	})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestExchangeResumedConversationSendsHistory(t *testing.T) {
	orch, _, _, convs, provider := testSetup(50)
	convID := store.GenNewID()
	convs.history = []store.MessageData{
		{Role: store.RoleUser, Content: "earlier question"},
		{Role: store.RoleAssistant, Content: "earlier answer"},
	}

	result, err := orch.Exchange(context.Background(), Request{
		AccountID: testUser, AgentID: testAgent, Content: "followup", ConversationID: convID,
	})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if result.ConversationID != convID {
		t.Errorf("conversation id = %v, want %v", result.ConversationID, convID)
	}

	// system + 2 history + new user message
	msgs := provider.lastReq.Messages
	if len(msgs) != 4 {
		t.Fatalf("provider got %d messages, want 4", len(msgs))
	}
	if msgs[0].Role != "system" {
		t.Errorf("first message role = %q, want system", msgs[0].Role)
	}
	if msgs[1].Content != "earlier question" || msgs[2].Content != "earlier answer" {
		t.Error("history not replayed in order")
	}
	if msgs[3].Content != "followup" {
		t.Errorf("last message = %q", msgs[3].Content)
	}
}

func TestConverseSkipsLedger(t *testing.T) {
	orch, accounts, agents, convs, _ := testSetup(50)

	result, err := orch.Converse(context.Background(), Request{
		AccountID: "line-user-9", AgentID: testAgent, Content: "hi",
	})
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if result.Reply == "" {
		t.Error("empty reply")
	}
	if len(accounts.ops) != 0 {
		t.Errorf("ledger touched: %+v", accounts.ops)
	}
	if len(convs.messages) != 2 {
		t.Errorf("persisted %d messages, want 2", len(convs.messages))
	}
	if agents.bumped != 1 {
		t.Errorf("usage bumped %d times, want 1", agents.bumped)
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	agent := &store.AgentData{
		AgentName: "Mika", Personality: "cheerful", Instructions: "be brief",
	}
	prompt := BuildSystemPrompt(agent)
	for _, want := range []string{"Mika", "cheerful", "be brief", "None specified"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	agent.Prohibition = "no politics"
	prompt = BuildSystemPrompt(agent)
	if !strings.Contains(prompt, "no politics") || strings.Contains(prompt, "None specified") {
		t.Errorf("prohibition not rendered: %q", prompt)
	}
}
