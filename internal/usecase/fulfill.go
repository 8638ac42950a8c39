package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"coronabot-fulfillment/internal/domain"
	"coronabot-fulfillment/internal/reply"
	"coronabot-fulfillment/internal/session"
)

const (
	defaultContextLifespan = 100
	defaultPredictTimeout  = 4 * time.Second
)

// Predictor scores a profile and links to the plots explaining the score.
type Predictor interface {
	Predict(ctx context.Context, p domain.Profile) (float64, error)
	BreakDownURL(p domain.Profile) string
	CeterisParibusURL(p domain.Profile, focus string) string
}

type Config struct {
	Registry domain.Registry
	// ContextLifespan is the lifespan set on every slot write.
	ContextLifespan int
	// PredictTimeout bounds the wait for a prediction, retries included.
	PredictTimeout time.Duration
	// Debug logs a trace of every turn.
	Debug  bool
	Logger *slog.Logger
}

// FulfillmentService processes one dialogue turn at a time.
type FulfillmentService struct {
	predictor Predictor
	// store is nil when the dialogue platform owns the contexts.
	store          session.Store
	picker         reply.Picker
	registry       domain.Registry
	lifespan       int
	predictTimeout time.Duration
	debug          bool
	logger         *slog.Logger
	routes         router
}

// NewFulfillmentService wires the service. A nil store means contexts travel
// with each request and written contexts are returned in the response; a nil
// picker selects phrasings at random.
func NewFulfillmentService(predictor Predictor, store session.Store, picker reply.Picker, cfg Config) (*FulfillmentService, error) {
	if predictor == nil {
		return nil, errors.New("usecase: predictor must not be nil")
	}
	if picker == nil {
		picker = reply.RandomPicker()
	}
	if cfg.ContextLifespan <= 0 {
		cfg.ContextLifespan = defaultContextLifespan
	}
	if cfg.PredictTimeout <= 0 {
		cfg.PredictTimeout = defaultPredictTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	routes, err := newRouter(intentRoutes())
	if err != nil {
		return nil, err
	}
	return &FulfillmentService{
		predictor:      predictor,
		store:          store,
		picker:         picker,
		registry:       cfg.Registry,
		lifespan:       cfg.ContextLifespan,
		predictTimeout: cfg.PredictTimeout,
		debug:          cfg.Debug,
		logger:         cfg.Logger,
		routes:         routes,
	}, nil
}

// Intents returns the registered intent names, sorted.
func (s *FulfillmentService) Intents() []string {
	out := make([]string, 0, len(s.routes))
	for name := range s.routes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Fulfill dispatches the turn to its intent handler. The storage context is
// read once before the handler runs and written at most once after it.
func (s *FulfillmentService) Fulfill(ctx context.Context, req domain.TurnRequest) (domain.TurnResponse, error) {
	intent := strings.TrimSpace(req.IntentID)
	if intent == "" {
		return domain.TurnResponse{}, newError(ErrorInvalidInput, "missing_intent", nil)
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return domain.TurnResponse{}, newError(ErrorInvalidInput, "missing_session", nil)
	}
	handle, ok := s.routes[intent]
	if !ok {
		return domain.TurnResponse{}, newError(ErrorUnknownIntent, "unregistered_intent", fmt.Errorf("intent %q", intent))
	}

	store, decay := s.store, true
	if store == nil {
		store, decay = session.NewPlatformStore(req.Contexts), false
	}
	st, err := session.Open(ctx, store, req.SessionID, domain.StorageContextName, decay)
	if err != nil {
		s.logger.ErrorContext(ctx, "context read failed", "session", req.SessionID, "err", err)
		return domain.TurnResponse{}, newError(ErrorInternal, "context_read_error", err)
	}

	t := &turn{
		svc:    s,
		params: req.Parameters,
		state:  st,
		out:    &reply.Builder{},
	}
	handle(ctx, t)

	written, err := st.Commit(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "context write failed", "session", req.SessionID, "err", err)
		return domain.TurnResponse{}, newError(ErrorInternal, "context_write_error", err)
	}

	resp := domain.TurnResponse{Fragments: t.out.Fragments()}
	if s.store == nil && written != nil {
		resp.Contexts = []domain.ConversationContext{*written}
	}
	if s.debug {
		s.logger.DebugContext(ctx, "turn trace",
			"intent", intent,
			"session", req.SessionID,
			"parameters", req.Parameters,
			"profile", st.Profile(),
			"fragments", len(resp.Fragments),
			"predicted", t.predicted,
			"wrote_context", written != nil,
		)
	}
	return resp, nil
}

// turn carries the per-turn capabilities handed to intent handlers.
type turn struct {
	svc       *FulfillmentService
	params    map[string]any
	state     *session.Turn
	out       *reply.Builder
	predicted bool
}

func (t *turn) pick(options []string) string {
	return reply.Pick(t.svc.picker, options)
}

// setSlots merges slot values into the storage context.
func (t *turn) setSlots(values map[string]string) {
	stored := make(map[string]string, len(values))
	for slot, v := range values {
		stored[domain.StorageKeyFor(slot)] = v
	}
	t.state.Put(stored, t.svc.lifespan)
}

type predictionResult struct {
	probability float64
	err         error
}

// startPrediction issues the prediction in the background. The returned
// channel yields exactly one result.
func (s *FulfillmentService) startPrediction(ctx context.Context, p domain.Profile) <-chan predictionResult {
	done := make(chan predictionResult, 1)
	go func() {
		prob, err := s.predictor.Predict(ctx, p)
		done <- predictionResult{probability: prob, err: err}
	}()
	return done
}

// predict scores the current profile and appends the risk reply, or a
// degraded-service reply when no score arrives in time. A turn predicts at
// most once.
func (t *turn) predict(ctx context.Context) {
	if t.predicted {
		return
	}
	t.predicted = true

	profile := t.state.Profile()
	ctx, cancel := context.WithTimeout(ctx, t.svc.predictTimeout)
	defer cancel()

	var res predictionResult
	select {
	case res = <-t.svc.startPrediction(ctx, profile):
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	if res.err != nil {
		err := newError(ErrorPredictionUnavailable, "prediction_failed", res.err)
		t.svc.logger.WarnContext(ctx, "prediction unavailable", "profile", profile, "err", err)
		t.out.AddText(predictionDown)
		return
	}
	_, msg := classifyRisk(res.probability)
	t.out.AddText(msg)
}
