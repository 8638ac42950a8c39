package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"coronabot-fulfillment/internal/domain"
)

// Platform parameter names.
const (
	paramAge      = "number"
	paramGender   = "gender"
	paramCountry  = "geo-country"
	paramVariable = "variable"
)

// maxHumanAge is the oldest verified human age.
const maxHumanAge = 122

type intentHandler func(ctx context.Context, t *turn)

type route struct {
	intent string
	handle intentHandler
}

type router map[string]intentHandler

func newRouter(routes []route) (router, error) {
	r := make(router, len(routes))
	for _, rt := range routes {
		if rt.intent == "" || rt.handle == nil {
			return nil, errors.New("usecase: route needs an intent and a handler")
		}
		if _, dup := r[rt.intent]; dup {
			return nil, fmt.Errorf("usecase: intent %q registered twice", rt.intent)
		}
		r[rt.intent] = rt.handle
	}
	return r, nil
}

func intentRoutes() []route {
	return []route{
		{"Default Welcome Intent", welcome},
		{"Default Fallback Intent", fallback},

		{"list_variables", listVariables},
		{"end_conversation", endConversation},
		{"help_needed", helpNeeded},
		{"express_dissatisfaction", expressDissatisfaction},
		{"restart", restart},
		{"current_knowledge", currentKnowledge},
		{"explain_feature", explainFeature},

		{"clear_variable", clearVariable},
		{"survival_prediction", survivalPrediction},
		{"telling_age", tellingAge},
		{"telling_gender", tellingGender},
		{"telling_geo", tellingGeo},
		{"multi_slot_filling", multiSlotFilling},

		{"ceteris_paribus", ceterisParibus},
		{"break_down", breakDown},
	}
}

func welcome(_ context.Context, t *turn) {
	t.out.AddText(t.pick(greetings))
	t.out.AddText(readyToExplain)
}

func fallback(_ context.Context, t *turn) {
	t.out.AddText(t.pick(fallbacks))
	t.out.AddText(helpPrompt)
	t.out.AddSuggestion("help")
}

func expressDissatisfaction(_ context.Context, t *turn) {
	t.out.AddText(t.pick(apologies))
	t.out.AddText(helpPrompt)
	t.out.AddSuggestion("help")
}

func restart(_ context.Context, t *turn) {
	t.state.Expire()
	t.out.AddText(startOver)
}

func endConversation(_ context.Context, t *turn) {
	t.out.AddText(t.pick(farewells))
	t.state.Expire()
}

func helpNeeded(_ context.Context, t *turn) {
	t.out.AddSuggestion("list all variables")
	t.out.AddSuggestion("describe the problem")
	t.out.AddSuggestion("what do you know about me?")
}

func listVariables(_ context.Context, t *turn) {
	for _, slot := range domain.Slots() {
		t.out.AddSuggestion(slot)
	}
}

func currentKnowledge(_ context.Context, t *turn) {
	profile := t.state.Profile()
	for _, slot := range domain.Slots() {
		label := domain.DisplayLabel(slot)
		if v := profile.Value(slot); v != domain.Unknown {
			t.out.AddText(fmt.Sprintf("%s: %s", label, v))
		} else {
			t.out.AddText(label + " is not defined")
		}
	}
}

func explainFeature(_ context.Context, t *turn) {
	variable := paramString(t.params, paramVariable)
	switch variable {
	case domain.SlotAge:
		t.out.AddText("Age in years.")
	case domain.SlotGender:
		t.out.AddText(`Gender either "male" or "female"`)
	case domain.SlotCountry:
		t.out.AddText("Country. List of accepted input:")
		for _, c := range t.svc.registry.AcceptedCountries() {
			t.out.AddSuggestion(c)
		}
		t.out.AddSuggestion("other")
	default:
		t.out.AddText(fmt.Sprintf(variableUnknown, variable))
	}
}

// clearVariable resets a slot to Unknown. Names outside the slot set get the
// same reply without touching the context.
func clearVariable(_ context.Context, t *turn) {
	variable := paramString(t.params, paramVariable)
	if domain.IsSlot(variable) {
		t.setSlots(map[string]string{variable: domain.Unknown})
	}
	t.out.AddText(fmt.Sprintf(variableCleared, variable))
	t.out.AddSuggestion("passenger details")
	t.out.AddSuggestion("survival chance")
}

func survivalPrediction(ctx context.Context, t *turn) {
	t.predict(ctx)
}

func tellingAge(ctx context.Context, t *turn) {
	raw := paramString(t.params, paramAge)
	age, err := parseAge(raw)
	if err != nil {
		t.rejectAge(ctx, raw, err)
		return
	}
	if age > maxHumanAge {
		t.out.AddText(ageImplausible)
	}
	t.setSlots(map[string]string{domain.SlotAge: strconv.Itoa(age)})
	t.predict(ctx)
}

func tellingGender(ctx context.Context, t *turn) {
	t.setSlots(map[string]string{domain.SlotGender: valueOrUnknown(paramString(t.params, paramGender))})
	t.predict(ctx)
}

func tellingGeo(ctx context.Context, t *turn) {
	t.setSlots(map[string]string{domain.SlotCountry: t.normalizeCountry(ctx, paramString(t.params, paramCountry))})
	t.predict(ctx)
}

// multiSlotFilling validates every slot present in the turn, stores them in
// one write and predicts once on the merged profile. An invalid age rejects
// the whole turn.
func multiSlotFilling(ctx context.Context, t *turn) {
	values := make(map[string]string, 3)

	if raw := paramString(t.params, paramAge); raw != "" {
		age, err := parseAge(raw)
		if err != nil {
			t.rejectAge(ctx, raw, err)
			return
		}
		if age > maxHumanAge {
			t.out.AddText(ageImplausible)
		}
		values[domain.SlotAge] = strconv.Itoa(age)
	}
	if gender := paramString(t.params, paramGender); gender != "" {
		values[domain.SlotGender] = gender
	}
	if country := paramString(t.params, paramCountry); country != "" {
		values[domain.SlotCountry] = t.normalizeCountry(ctx, country)
	}

	if len(values) > 0 {
		t.setSlots(values)
	}
	t.predict(ctx)
}

func breakDown(_ context.Context, t *turn) {
	u := t.svc.predictor.BreakDownURL(t.state.Profile())
	t.out.AddText(creatingPlot)
	t.out.AddCard(domain.Card{
		Title:      "Break down plot",
		ImageURL:   u,
		Body:       breakDownBody,
		ButtonText: seeLargerPlot,
		ButtonURL:  u,
	})
}

func ceterisParibus(_ context.Context, t *turn) {
	u := t.svc.predictor.CeterisParibusURL(t.state.Profile(), focusVariable(t.params))
	t.out.AddText(creatingPlot)
	t.out.AddCard(domain.Card{
		Title:      "Ceteris Paribus plot",
		ImageURL:   u,
		ButtonText: seeLargerPlot,
		ButtonURL:  u,
	})
}

// focusVariable picks the plot's varying slot: the explicit variable, then
// whichever of country or gender the user just mentioned, else age.
func focusVariable(params map[string]any) string {
	if v := paramString(params, paramVariable); v != "" {
		return v
	}
	if paramString(params, paramCountry) != "" {
		return domain.SlotCountry
	}
	if paramString(params, paramGender) != "" {
		return domain.SlotGender
	}
	return domain.SlotAge
}

func (t *turn) rejectAge(ctx context.Context, raw string, err error) {
	t.svc.logger.InfoContext(ctx, "age rejected", "value", raw, "err", err)
	var ue *Error
	if errors.As(err, &ue) {
		switch ue.Reason {
		case "missing_age":
			t.out.AddText(ageMissing)
			return
		case "age_not_numeric":
			t.out.AddText(fmt.Sprintf(ageUnparsable, raw))
			return
		}
	}
	t.out.AddText(fmt.Sprintf(agePrompt, raw))
}

func (t *turn) normalizeCountry(ctx context.Context, value string) string {
	normalized := t.svc.registry.NormalizeCountry(value)
	if normalized != value {
		t.svc.logger.DebugContext(ctx, "country normalized", "value", value, "code", ErrorUnsupportedValue)
	}
	return normalized
}

// parseAge reads a whole number of years. Fractions are truncated toward
// zero; negative and non-numeric values fail with a validation error.
func parseAge(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, newError(ErrorValidation, "missing_age", nil)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
			return 0, newError(ErrorValidation, "age_not_numeric", err)
		}
		n = int(math.Trunc(f))
	}
	if n < 0 {
		return 0, newError(ErrorValidation, "negative_age", nil)
	}
	return n, nil
}

// paramString flattens a platform parameter to a trimmed string. Lists yield
// their first non-empty element; absent and unsupported values yield "".
func paramString(params map[string]any, name string) string {
	switch v := params[name].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	case []any:
		for _, item := range v {
			if s := paramString(map[string]any{name: item}, name); s != "" {
				return s
			}
		}
	case []string:
		for _, item := range v {
			if s := strings.TrimSpace(item); s != "" {
				return s
			}
		}
	}
	return ""
}

func valueOrUnknown(v string) string {
	if v == "" {
		return domain.Unknown
	}
	return v
}
