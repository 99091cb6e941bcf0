package httpapi

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/aifriendshub/agenthub/internal/exchange"
	"github.com/aifriendshub/agenthub/internal/ledger"
	"github.com/aifriendshub/agenthub/internal/payments"
	"github.com/aifriendshub/agenthub/internal/store"
)

// Exchanging runs the paid message flow. Satisfied by
// *exchange.Orchestrator.
type Exchanging interface {
	Exchange(ctx context.Context, req exchange.Request) (*exchange.Result, error)
}

// Options tunes the API surface.
type Options struct {
	ServiceToken   string
	AllowedOrigins []string
	PublicBaseURL  string // base for generated channel webhook URLs
	RateLimitRPM   int    // per-account message rate; 0 disables
}

// API is the REST handler set.
type API struct {
	ledger   *ledger.Service
	orch     Exchanging
	agents   store.AgentStore
	configs  store.ChannelConfigStore
	payments *payments.Service
	opts     Options

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New wires the REST API.
func New(lg *ledger.Service, orch Exchanging, agents store.AgentStore, configs store.ChannelConfigStore, pay *payments.Service, opts Options) *API {
	return &API{
		ledger:   lg,
		orch:     orch,
		agents:   agents,
		configs:  configs,
		payments: pay,
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Register mounts all API routes on mux. The stripe webhook skips
// bearer auth; it authenticates with its own signature.
func (a *API) Register(mux *http.ServeMux) {
	authed := func(h http.HandlerFunc) http.Handler {
		return corsMiddleware(a.opts.AllowedOrigins, authMiddleware(a.opts.ServiceToken, h))
	}
	mux.Handle("POST /v1/points", authed(a.handleUpdatePoints))
	mux.Handle("POST /v1/points/balance", authed(a.handleBalance))
	mux.Handle("GET /v1/points/entries", authed(a.handleEntries))
	mux.Handle("POST /v1/messages", authed(a.handleMessage))
	mux.Handle("GET /v1/agents", authed(a.handleListAgents))
	mux.Handle("POST /v1/channel-config", authed(a.handleChannelConfig))
	mux.Handle("POST /v1/payments", authed(a.handleCreatePayment))
	mux.Handle("POST /v1/stripe-webhook",
		corsMiddleware(a.opts.AllowedOrigins, http.HandlerFunc(a.handleStripeWebhook)))

	// Preflights never reach the method-qualified patterns above; the
	// middleware answers them here.
	mux.Handle("OPTIONS /v1/", corsMiddleware(a.opts.AllowedOrigins,
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})))
}

// allowAccount applies the per-account message rate limit.
func (a *API) allowAccount(accountID string) bool {
	if a.opts.RateLimitRPM <= 0 {
		return true
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	lim, ok := a.limiters[accountID]
	if !ok {
		if len(a.limiters) >= 10000 {
			a.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(rate.Limit(float64(a.opts.RateLimitRPM)/60.0), a.opts.RateLimitRPM)
		a.limiters[accountID] = lim
	}
	return lim.Allow()
}
