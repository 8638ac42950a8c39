// Package reply composes the ordered fragments of a turn response.
package reply

import (
	"math/rand"

	"coronabot-fulfillment/internal/domain"
)

// Builder accumulates response fragments in the order they are added.
type Builder struct {
	fragments []domain.Fragment
}

func (b *Builder) AddText(s string) {
	b.fragments = append(b.fragments, domain.Fragment{Kind: domain.FragmentText, Text: s})
}

func (b *Builder) AddSuggestion(label string) {
	b.fragments = append(b.fragments, domain.Fragment{Kind: domain.FragmentSuggestion, Text: label})
}

func (b *Builder) AddImage(url string) {
	b.fragments = append(b.fragments, domain.Fragment{Kind: domain.FragmentImage, ImageURL: url})
}

// AddCard appends a rich card. Body may be empty.
func (b *Builder) AddCard(c domain.Card) {
	card := c
	b.fragments = append(b.fragments, domain.Fragment{Kind: domain.FragmentCard, Card: &card})
}

// Len reports the number of fragments added so far.
func (b *Builder) Len() int {
	return len(b.fragments)
}

// Fragments returns a copy of the accumulated fragments.
func (b *Builder) Fragments() []domain.Fragment {
	out := make([]domain.Fragment, len(b.fragments))
	for i, f := range b.fragments {
		if f.Card != nil {
			card := *f.Card
			f.Card = &card
		}
		out[i] = f
	}
	return out
}

// Picker returns a uniformly distributed index in [0, n).
type Picker interface {
	IntN(n int) int
}

type randomPicker struct{}

func (randomPicker) IntN(n int) int {
	return rand.Intn(n)
}

// RandomPicker returns a Picker backed by the process-wide random source.
func RandomPicker() Picker {
	return randomPicker{}
}

// Pick returns one of options chosen by p. It returns "" for no options.
func Pick(p Picker, options []string) string {
	switch len(options) {
	case 0:
		return ""
	case 1:
		return options[0]
	}
	i := p.IntN(len(options))
	if i < 0 || i >= len(options) {
		i = 0
	}
	return options[i]
}
