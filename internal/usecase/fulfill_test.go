package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"coronabot-fulfillment/internal/domain"
	"coronabot-fulfillment/internal/session"
)

type fakePredictor struct {
	mu       sync.Mutex
	prob     float64
	err      error
	delay    time.Duration
	profiles []domain.Profile
}

func (f *fakePredictor) Predict(ctx context.Context, p domain.Profile) (float64, error) {
	f.mu.Lock()
	f.profiles = append(f.profiles, p)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return f.prob, f.err
}

func (f *fakePredictor) BreakDownURL(p domain.Profile) string {
	return "http://scores.test/break_down?age=" + p.Age + "&gender=" + p.Gender + "&country=" + p.Country
}

func (f *fakePredictor) CeterisParibusURL(p domain.Profile, focus string) string {
	return "http://scores.test/ceteris_paribus?age=" + p.Age + "&gender=" + p.Gender + "&country=" + p.Country + "&variable=" + focus
}

func (f *fakePredictor) calls() []domain.Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Profile(nil), f.profiles...)
}

// recordingStore wraps a MemoryStore and records every write.
type recordingStore struct {
	*session.MemoryStore
	writes   []domain.ConversationContext
	readErr  error
	writeErr error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: session.NewMemoryStore()}
}

func (r *recordingStore) Read(ctx context.Context, sessionID, name string) (domain.ConversationContext, bool, error) {
	if r.readErr != nil {
		return domain.ConversationContext{}, false, r.readErr
	}
	return r.MemoryStore.Read(ctx, sessionID, name)
}

func (r *recordingStore) Write(ctx context.Context, sessionID string, c domain.ConversationContext) error {
	if r.writeErr != nil {
		return r.writeErr
	}
	r.writes = append(r.writes, c.Clone())
	return r.MemoryStore.Write(ctx, sessionID, c)
}

func (r *recordingStore) seed(t *testing.T, lifespan int, params map[string]string) {
	t.Helper()
	require.NoError(t, r.MemoryStore.Write(context.Background(), testSession, domain.ConversationContext{
		Name:           domain.StorageContextName,
		RemainingTurns: lifespan,
		Parameters:     params,
	}))
}

type fixedPicker struct{ i int }

func (f fixedPicker) IntN(n int) int { return f.i % n }

const testSession = "projects/p/agent/sessions/s-1"

func newTestService(t *testing.T, p Predictor, store session.Store) *FulfillmentService {
	t.Helper()
	svc, err := NewFulfillmentService(p, store, fixedPicker{}, Config{
		Registry:       domain.NewRegistry("China"),
		PredictTimeout: time.Second,
	})
	require.NoError(t, err)
	return svc
}

func turnReq(intent string, params map[string]any, contexts ...domain.ConversationContext) domain.TurnRequest {
	return domain.TurnRequest{
		SessionID:  testSession,
		IntentID:   intent,
		Parameters: params,
		Contexts:   contexts,
	}
}

func storageContext(lifespan int, params map[string]string) domain.ConversationContext {
	return domain.ConversationContext{Name: domain.StorageContextName, RemainingTurns: lifespan, Parameters: params}
}

func texts(resp domain.TurnResponse) []string {
	var out []string
	for _, f := range resp.Fragments {
		if f.Kind == domain.FragmentText {
			out = append(out, f.Text)
		}
	}
	return out
}

func suggestions(resp domain.TurnResponse) []string {
	var out []string
	for _, f := range resp.Fragments {
		if f.Kind == domain.FragmentSuggestion {
			out = append(out, f.Text)
		}
	}
	return out
}

func expectUsecaseError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

func TestNewFulfillmentService_ValidatesDependencies(t *testing.T) {
	_, err := NewFulfillmentService(nil, nil, nil, Config{})
	require.Error(t, err)

	svc, err := NewFulfillmentService(&fakePredictor{}, nil, nil, Config{})
	require.NoError(t, err)
	require.Equal(t, defaultContextLifespan, svc.lifespan)
	require.Equal(t, defaultPredictTimeout, svc.predictTimeout)
	require.Len(t, svc.Intents(), 17)
}

func TestNewRouter_RejectsBadRoutes(t *testing.T) {
	_, err := newRouter([]route{{"restart", restart}, {"restart", restart}})
	require.ErrorContains(t, err, "twice")

	_, err = newRouter([]route{{"", restart}})
	require.Error(t, err)
}

func TestFulfill_RequestErrors(t *testing.T) {
	svc := newTestService(t, &fakePredictor{}, nil)

	_, err := svc.Fulfill(context.Background(), turnReq(" ", nil))
	expectUsecaseError(t, err, ErrorInvalidInput, "missing_intent")

	_, err = svc.Fulfill(context.Background(), domain.TurnRequest{IntentID: "restart"})
	expectUsecaseError(t, err, ErrorInvalidInput, "missing_session")

	_, err = svc.Fulfill(context.Background(), turnReq("order_pizza", nil))
	expectUsecaseError(t, err, ErrorUnknownIntent, "unregistered_intent")
}

func TestFulfill_WelcomeUsesPicker(t *testing.T) {
	svc, err := NewFulfillmentService(&fakePredictor{}, nil, fixedPicker{i: 1}, Config{})
	require.NoError(t, err)

	resp, err := svc.Fulfill(context.Background(), turnReq("Default Welcome Intent", nil))
	require.NoError(t, err)
	require.Equal(t, []string{greetings[1], readyToExplain}, texts(resp))
	require.Empty(t, resp.Contexts)
}

func TestFulfill_FallbackOffersHelp(t *testing.T) {
	svc := newTestService(t, &fakePredictor{}, nil)
	resp, err := svc.Fulfill(context.Background(), turnReq("Default Fallback Intent", nil))
	require.NoError(t, err)
	require.Equal(t, []string{fallbacks[0], helpPrompt}, texts(resp))
	require.Equal(t, []string{"help"}, suggestions(resp))

	resp, err = svc.Fulfill(context.Background(), turnReq("express_dissatisfaction", nil))
	require.NoError(t, err)
	require.Equal(t, []string{apologies[0], helpPrompt}, texts(resp))
}

func TestFulfill_HelpAndListVariables(t *testing.T) {
	svc := newTestService(t, &fakePredictor{}, nil)

	resp, err := svc.Fulfill(context.Background(), turnReq("help_needed", nil))
	require.NoError(t, err)
	require.Equal(t, []string{"list all variables", "describe the problem", "what do you know about me?"}, suggestions(resp))

	resp, err = svc.Fulfill(context.Background(), turnReq("list_variables", nil))
	require.NoError(t, err)
	require.Equal(t, []string{"age", "gender", "country"}, suggestions(resp))
}

func TestFulfill_NegativeAgeIsRejected(t *testing.T) {
	pred := &fakePredictor{prob: 0.2}
	store := newRecordingStore()
	store.seed(t, 50, map[string]string{"age": "30"})
	svc := newTestService(t, pred, store)

	resp, err := svc.Fulfill(context.Background(), turnReq("telling_age", map[string]any{"number": float64(-5)}))
	require.NoError(t, err)
	require.Equal(t, []string{"I don't really think you are -5 years old. Tell me your real age."}, texts(resp))
	require.Empty(t, pred.calls())

	// Only the lifespan decay is written; the stored age is untouched.
	require.Len(t, store.writes, 1)
	require.Equal(t, "30", store.writes[0].Parameters["age"])
	require.Equal(t, 49, store.writes[0].RemainingTurns)
}

func TestFulfill_NonNumericAgeIsRejected(t *testing.T) {
	pred := &fakePredictor{}
	svc := newTestService(t, pred, nil)

	resp, err := svc.Fulfill(context.Background(), turnReq("telling_age", map[string]any{"number": "forty"}))
	require.NoError(t, err)
	require.Equal(t, []string{`Sorry, I couldn't read "forty" as an age. Tell me your age in years.`}, texts(resp))
	require.Empty(t, resp.Contexts)
	require.Empty(t, pred.calls())

	resp, err = svc.Fulfill(context.Background(), turnReq("telling_age", nil))
	require.NoError(t, err)
	require.Equal(t, []string{ageMissing}, texts(resp))
}

func TestFulfill_ImplausibleAgeWarnsAndPredicts(t *testing.T) {
	pred := &fakePredictor{prob: 0.2}
	svc := newTestService(t, pred, nil)

	resp, err := svc.Fulfill(context.Background(), turnReq("telling_age", map[string]any{"number": float64(150)}))
	require.NoError(t, err)
	require.Equal(t, []string{ageImplausible, "Your death risk is 20.00%, which is high."}, texts(resp))

	require.Equal(t, []domain.Profile{{Age: "150", Gender: domain.Unknown, Country: domain.Unknown}}, pred.calls())
	require.Len(t, resp.Contexts, 1)
	require.Equal(t, domain.StorageContextName, resp.Contexts[0].Name)
	require.Equal(t, 100, resp.Contexts[0].RemainingTurns)
	require.Equal(t, "150", resp.Contexts[0].Parameters["age"])
}

func TestFulfill_TellingAgeKeepsOtherSlots(t *testing.T) {
	pred := &fakePredictor{prob: 0.03}
	svc := newTestService(t, pred, nil)

	inbound := storageContext(42, map[string]string{"gender_value": "female", "country_value": "China"})
	resp, err := svc.Fulfill(context.Background(), turnReq("telling_age", map[string]any{"number": "40.9"}, inbound))
	require.NoError(t, err)
	require.Equal(t, []domain.Profile{{Age: "40", Gender: "female", Country: "China"}}, pred.calls())
	require.Equal(t, map[string]string{"age": "40", "gender_value": "female", "country_value": "China"}, resp.Contexts[0].Parameters)
	require.Equal(t, []string{"Your death risk is 3.00%, which is average."}, texts(resp))
}

func TestFulfill_TellingGeoNormalizesCountry(t *testing.T) {
	cases := []struct {
		country string
		want    string
	}{
		{country: "China", want: "China"},
		{country: "France", want: domain.Unknown},
	}
	for _, tc := range cases {
		t.Run(tc.country, func(t *testing.T) {
			pred := &fakePredictor{prob: 0.5}
			svc := newTestService(t, pred, nil)

			resp, err := svc.Fulfill(context.Background(), turnReq("telling_geo", map[string]any{"geo-country": tc.country}))
			require.NoError(t, err)
			require.Equal(t, tc.want, resp.Contexts[0].Parameters["country_value"])
			require.Equal(t, tc.want, pred.calls()[0].Country)
		})
	}
}

func TestFulfill_TellingGender(t *testing.T) {
	pred := &fakePredictor{prob: 0.001}
	svc := newTestService(t, pred, nil)

	resp, err := svc.Fulfill(context.Background(), turnReq("telling_gender", map[string]any{"gender": "male"}))
	require.NoError(t, err)
	require.Equal(t, "male", resp.Contexts[0].Parameters["gender_value"])
	require.Equal(t, "male", pred.calls()[0].Gender)
	require.Equal(t, []string{"Your death risk is 0.10%, which is very low."}, texts(resp))
}

func TestFulfill_RestartAndEndExpireContext(t *testing.T) {
	for _, intent := range []string{"restart", "end_conversation"} {
		t.Run(intent, func(t *testing.T) {
			store := newRecordingStore()
			store.seed(t, 10, map[string]string{"age": "40"})
			svc := newTestService(t, &fakePredictor{}, store)

			resp, err := svc.Fulfill(context.Background(), turnReq(intent, nil))
			require.NoError(t, err)
			require.Len(t, store.writes, 1)
			require.Equal(t, 0, store.writes[0].RemainingTurns)
			require.Len(t, texts(resp), 1)

			_, found, err := store.MemoryStore.Read(context.Background(), testSession, domain.StorageContextName)
			require.NoError(t, err)
			require.False(t, found)
		})
	}
}

func TestFulfill_RestartEmitsZeroLifespanForPlatform(t *testing.T) {
	svc := newTestService(t, &fakePredictor{}, nil)
	resp, err := svc.Fulfill(context.Background(), turnReq("restart", nil, storageContext(7, map[string]string{"age": "40"})))
	require.NoError(t, err)
	require.Equal(t, []string{startOver}, texts(resp))
	require.Len(t, resp.Contexts, 1)
	require.Equal(t, 0, resp.Contexts[0].RemainingTurns)
}

func TestFulfill_MultiSlotFillingWritesOnceAndPredictsOnce(t *testing.T) {
	pred := &fakePredictor{prob: 0.1}
	store := newRecordingStore()
	svc := newTestService(t, pred, store)

	resp, err := svc.Fulfill(context.Background(), turnReq("multi_slot_filling", map[string]any{
		"number":      float64(40),
		"gender":      "male",
		"geo-country": "China",
	}))
	require.NoError(t, err)
	require.Equal(t, []domain.Profile{{Age: "40", Gender: "male", Country: "China"}}, pred.calls())
	require.Len(t, store.writes, 1)
	require.Equal(t, map[string]string{"age": "40", "gender_value": "male", "country_value": "China"}, store.writes[0].Parameters)
	require.Equal(t, 100, store.writes[0].RemainingTurns)
	require.Equal(t, []string{"Your death risk is 10.00%, which is very high."}, texts(resp))
	require.Empty(t, resp.Contexts)
}

func TestFulfill_MultiSlotFillingMergesWithStoredValues(t *testing.T) {
	pred := &fakePredictor{prob: 0.1}
	store := newRecordingStore()
	store.seed(t, 3, map[string]string{"age": "70", "gender_value": "female"})
	svc := newTestService(t, pred, store)

	_, err := svc.Fulfill(context.Background(), turnReq("multi_slot_filling", map[string]any{
		"gender":      "",
		"geo-country": []any{"France"},
	}))
	require.NoError(t, err)
	require.Equal(t, []domain.Profile{{Age: "70", Gender: "female", Country: domain.Unknown}}, pred.calls())
	require.Len(t, store.writes, 1)
	require.Equal(t, map[string]string{"age": "70", "gender_value": "female", "country_value": domain.Unknown}, store.writes[0].Parameters)
}

func TestFulfill_MultiSlotFillingRejectsNegativeAge(t *testing.T) {
	pred := &fakePredictor{}
	svc := newTestService(t, pred, nil)

	resp, err := svc.Fulfill(context.Background(), turnReq("multi_slot_filling", map[string]any{
		"number": "-3",
		"gender": "male",
	}))
	require.NoError(t, err)
	require.Empty(t, pred.calls())
	require.Empty(t, resp.Contexts)
	require.Equal(t, []string{"I don't really think you are -3 years old. Tell me your real age."}, texts(resp))
}

func TestFulfill_SurvivalPredictionUsesStoredProfile(t *testing.T) {
	pred := &fakePredictor{prob: 0.00004}
	store := newRecordingStore()
	store.seed(t, 5, map[string]string{"age": "40", "gender_value": "male", "country_value": "China"})
	svc := newTestService(t, pred, store)

	resp, err := svc.Fulfill(context.Background(), turnReq("survival_prediction", nil))
	require.NoError(t, err)
	require.Equal(t, []domain.Profile{{Age: "40", Gender: "male", Country: "China"}}, pred.calls())
	require.Equal(t, []string{"Your death risk is 0.00%, which is minimal."}, texts(resp))

	require.Len(t, store.writes, 1)
	require.Equal(t, 4, store.writes[0].RemainingTurns)
}

func TestFulfill_PredictionFailureDegrades(t *testing.T) {
	pred := &fakePredictor{err: errors.New("prediction: service unavailable: connection refused")}
	svc := newTestService(t, pred, nil)

	resp, err := svc.Fulfill(context.Background(), turnReq("telling_gender", map[string]any{"gender": "female"}))
	require.NoError(t, err)
	require.Equal(t, []string{predictionDown}, texts(resp))
	require.Len(t, resp.Contexts, 1)
	require.Equal(t, "female", resp.Contexts[0].Parameters["gender_value"])
}

func TestFulfill_PredictionTimeoutDegrades(t *testing.T) {
	pred := &fakePredictor{prob: 0.5, delay: time.Second}
	svc, err := NewFulfillmentService(pred, nil, fixedPicker{}, Config{PredictTimeout: 20 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	resp, err := svc.Fulfill(context.Background(), turnReq("survival_prediction", nil))
	require.NoError(t, err)
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.Equal(t, []string{predictionDown}, texts(resp))
}

func TestFulfill_CurrentKnowledge(t *testing.T) {
	svc := newTestService(t, &fakePredictor{}, nil)

	inbound := storageContext(9, map[string]string{"age": "40", "gender_value": "", "country_value": domain.Unknown})
	resp, err := svc.Fulfill(context.Background(), turnReq("current_knowledge", nil, inbound))
	require.NoError(t, err)
	require.Equal(t, []string{"Age: 40", "Gender is not defined", "Country is not defined"}, texts(resp))
	require.Empty(t, resp.Contexts)
}

func TestFulfill_ClearVariable(t *testing.T) {
	svc := newTestService(t, &fakePredictor{}, nil)
	inbound := storageContext(9, map[string]string{"age": "40", "gender_value": "male"})

	resp, err := svc.Fulfill(context.Background(), turnReq("clear_variable", map[string]any{"variable": "gender"}, inbound))
	require.NoError(t, err)
	require.Equal(t, []string{"Variable gender was cleared"}, texts(resp))
	require.Equal(t, []string{"passenger details", "survival chance"}, suggestions(resp))
	require.Equal(t, map[string]string{"age": "40", "gender_value": domain.Unknown}, resp.Contexts[0].Parameters)

	resp, err = svc.Fulfill(context.Background(), turnReq("clear_variable", map[string]any{"variable": "weight"}, inbound))
	require.NoError(t, err)
	require.Equal(t, []string{"Variable weight was cleared"}, texts(resp))
	require.Empty(t, resp.Contexts)
}

func TestFulfill_ExplainFeature(t *testing.T) {
	svc, err := NewFulfillmentService(&fakePredictor{}, nil, fixedPicker{}, Config{Registry: domain.NewRegistry("China", "Italy")})
	require.NoError(t, err)

	resp, err := svc.Fulfill(context.Background(), turnReq("explain_feature", map[string]any{"variable": "country"}))
	require.NoError(t, err)
	require.Equal(t, []string{"Country. List of accepted input:"}, texts(resp))
	require.Equal(t, []string{"China", "Italy", "other"}, suggestions(resp))

	resp, err = svc.Fulfill(context.Background(), turnReq("explain_feature", map[string]any{"variable": "age"}))
	require.NoError(t, err)
	require.Equal(t, []string{"Age in years."}, texts(resp))

	resp, err = svc.Fulfill(context.Background(), turnReq("explain_feature", map[string]any{"variable": "height"}))
	require.NoError(t, err)
	require.Equal(t, []string{"I don't know the variable height"}, texts(resp))
}

func TestFulfill_BreakDownCard(t *testing.T) {
	svc := newTestService(t, &fakePredictor{}, nil)
	inbound := storageContext(9, map[string]string{"age": "40", "gender_value": "male"})

	resp, err := svc.Fulfill(context.Background(), turnReq("break_down", nil, inbound))
	require.NoError(t, err)
	require.Len(t, resp.Fragments, 2)
	require.Equal(t, creatingPlot, resp.Fragments[0].Text)

	card := resp.Fragments[1].Card
	require.NotNil(t, card)
	require.Equal(t, "Break down plot", card.Title)
	require.Equal(t, breakDownBody, card.Body)
	require.Equal(t, "http://scores.test/break_down?age=40&gender=male&country=X", card.ImageURL)
	require.Equal(t, card.ImageURL, card.ButtonURL)
	require.Equal(t, seeLargerPlot, card.ButtonText)
}

func TestFulfill_CeterisParibusFocus(t *testing.T) {
	cases := []struct {
		name   string
		params map[string]any
		focus  string
	}{
		{name: "explicit variable", params: map[string]any{"variable": []any{"gender"}, "geo-country": "China"}, focus: "gender"},
		{name: "country mentioned", params: map[string]any{"geo-country": "China", "gender": "male"}, focus: "country"},
		{name: "gender mentioned", params: map[string]any{"gender": "male", "variable": []any{}}, focus: "gender"},
		{name: "default", params: nil, focus: "age"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestService(t, &fakePredictor{}, nil)
			resp, err := svc.Fulfill(context.Background(), turnReq("ceteris_paribus", tc.params))
			require.NoError(t, err)

			card := resp.Fragments[1].Card
			require.Equal(t, "Ceteris Paribus plot", card.Title)
			require.Empty(t, card.Body)
			require.Equal(t, "http://scores.test/ceteris_paribus?age=X&gender=X&country=X&variable="+tc.focus, card.ImageURL)
		})
	}
}

func TestFulfill_StoreErrors(t *testing.T) {
	store := newRecordingStore()
	store.readErr = errors.New("dynamodb down")
	svc := newTestService(t, &fakePredictor{}, store)
	_, err := svc.Fulfill(context.Background(), turnReq("restart", nil))
	expectUsecaseError(t, err, ErrorInternal, "context_read_error")

	store = newRecordingStore()
	store.writeErr = errors.New("throttled")
	svc = newTestService(t, &fakePredictor{}, store)
	_, err = svc.Fulfill(context.Background(), turnReq("restart", nil))
	expectUsecaseError(t, err, ErrorInternal, "context_write_error")
	require.ErrorContains(t, err, "throttled")
}

func TestFulfill_DebugTrace(t *testing.T) {
	svc, err := NewFulfillmentService(&fakePredictor{prob: 0.5}, nil, fixedPicker{}, Config{Debug: true})
	require.NoError(t, err)
	resp, err := svc.Fulfill(context.Background(), turnReq("survival_prediction", nil))
	require.NoError(t, err)
	require.Len(t, resp.Fragments, 1)
}
