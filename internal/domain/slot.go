package domain

import "strings"

// Unknown is the slot value meaning "not known yet" or "cleared".
const Unknown = "X"

// StorageContextName is the name of the conversation context holding slot values.
const StorageContextName = "storage_context"

// Slot names. These match the platform entity names.
const (
	SlotAge     = "age"
	SlotGender  = "gender"
	SlotCountry = "country"
)

type slotSpec struct {
	name       string
	storageKey string
	label      string
}

// The gender and country storage keys differ from the slot names so they never
// collide with the platform's own entity parameters of the same name.
var slotSpecs = []slotSpec{
	{name: SlotAge, storageKey: "age", label: "Age"},
	{name: SlotGender, storageKey: "gender_value", label: "Gender"},
	{name: SlotCountry, storageKey: "country_value", label: "Country"},
}

var defaultAcceptedCountries = []string{"China"}

// Slots returns the tracked slot names in presentation order.
func Slots() []string {
	out := make([]string, 0, len(slotSpecs))
	for _, s := range slotSpecs {
		out = append(out, s.name)
	}
	return out
}

// IsSlot reports whether name is one of the tracked slots.
func IsSlot(name string) bool {
	_, ok := specByName(name)
	return ok
}

// StorageKeyFor maps a slot name to its context parameter key. Names outside
// the slot set map to themselves.
func StorageKeyFor(name string) string {
	if s, ok := specByName(name); ok {
		return s.storageKey
	}
	return name
}

// SlotNameFor is the inverse of StorageKeyFor.
func SlotNameFor(storageKey string) string {
	for _, s := range slotSpecs {
		if s.storageKey == storageKey {
			return s.name
		}
	}
	return storageKey
}

// DisplayLabel returns the user-facing label of a slot, or the name itself.
func DisplayLabel(name string) string {
	if s, ok := specByName(name); ok {
		return s.label
	}
	return name
}

func specByName(name string) (slotSpec, bool) {
	for _, s := range slotSpecs {
		if s.name == name {
			return s, true
		}
	}
	return slotSpec{}, false
}

// Registry holds the per-process country allow-list. It is built once at
// startup and never mutated.
type Registry struct {
	countries []string
}

// NewRegistry builds a Registry from the given allow-list. Blank entries are
// ignored; an empty list falls back to the default allow-list.
func NewRegistry(acceptedCountries ...string) Registry {
	countries := make([]string, 0, len(acceptedCountries))
	for _, c := range acceptedCountries {
		if c = strings.TrimSpace(c); c != "" {
			countries = append(countries, c)
		}
	}
	if len(countries) == 0 {
		countries = append(countries, defaultAcceptedCountries...)
	}
	return Registry{countries: countries}
}

// AcceptedCountries returns a copy of the allow-list.
func (r Registry) AcceptedCountries() []string {
	if len(r.countries) == 0 {
		return append([]string(nil), defaultAcceptedCountries...)
	}
	return append([]string(nil), r.countries...)
}

// IsAcceptedCountry reports whether the model knows the country.
func (r Registry) IsAcceptedCountry(value string) bool {
	for _, c := range r.AcceptedCountries() {
		if c == value {
			return true
		}
	}
	return false
}

// NormalizeCountry returns value when accepted and Unknown otherwise.
func (r Registry) NormalizeCountry(value string) string {
	if r.IsAcceptedCountry(value) {
		return value
	}
	return Unknown
}

// Profile is the snapshot of slot values sent to the prediction service.
// Unset slots hold Unknown.
type Profile struct {
	Age     string
	Gender  string
	Country string
}

// Value returns the value of the named slot.
func (p Profile) Value(slot string) string {
	switch slot {
	case SlotAge:
		return p.Age
	case SlotGender:
		return p.Gender
	case SlotCountry:
		return p.Country
	}
	return Unknown
}
