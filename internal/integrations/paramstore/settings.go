package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Settings are the deployment parameters of the fulfillment webhook.
type Settings struct {
	PredictionBaseURL string
	// AcceptedCountries is empty when the parameter is not set.
	AcceptedCountries []string
}

// LoadSettings reads the prediction base URL and the optional country
// allow-list under prefix.
func LoadSettings(ctx context.Context, g Getter, prefix string) (Settings, error) {
	if g == nil {
		return Settings{}, errors.New("paramstore: getter must not be nil")
	}
	if strings.Trim(strings.TrimSpace(prefix), "/") == "" {
		return Settings{}, errors.New("paramstore: parameter prefix must not be empty")
	}

	baseURL, err := g.GetParameter(ctx, Path(prefix, PredictionBaseURL))
	if err != nil {
		return Settings{}, fmt.Errorf("paramstore: load prediction base url: %w", err)
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return Settings{}, errors.New("paramstore: prediction base url is empty")
	}

	raw, ok, err := GetOptional(ctx, g, Path(prefix, AcceptedCountries))
	if err != nil {
		return Settings{}, fmt.Errorf("paramstore: load accepted countries: %w", err)
	}
	var countries []string
	if ok {
		countries = SplitList(raw)
	}
	return Settings{PredictionBaseURL: baseURL, AcceptedCountries: countries}, nil
}

// SplitList splits a comma separated value, dropping blank entries.
func SplitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
