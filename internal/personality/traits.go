// Package personality derives the six council personas from a user's Big Five
// profile and owns the canonical string key used to identify a profile.
package personality

import (
	"fmt"
	"math"
	"strings"
)

const (
	MinTrait = 1
	MaxTrait = 5
)

// Trait indexes the five dimensions in canonical order.
type Trait int

const (
	Openness Trait = iota
	Conscientiousness
	Extraversion
	Agreeableness
	Neuroticism
)

var traitLetters = [5]string{"O", "C", "E", "A", "N"}

var traitNames = [5]string{"openness", "conscientiousness", "extraversion", "agreeableness", "neuroticism"}

func (t Trait) String() string {
	if t < Openness || t > Neuroticism {
		return fmt.Sprintf("trait(%d)", int(t))
	}
	return traitNames[t]
}

// TraitVector is an immutable Big Five score, each component in [1,5].
type TraitVector struct {
	O, C, E, A, N int
}

// NewTraitVector validates every component before building the vector.
func NewTraitVector(o, c, e, a, n int) (TraitVector, error) {
	v := TraitVector{O: o, C: c, E: e, A: a, N: n}
	if err := v.Validate(); err != nil {
		return TraitVector{}, err
	}
	return v, nil
}

// FromArray builds a vector from canonical O,C,E,A,N order.
func FromArray(vals [5]int) (TraitVector, error) {
	return NewTraitVector(vals[0], vals[1], vals[2], vals[3], vals[4])
}

func (v TraitVector) Array() [5]int {
	return [5]int{v.O, v.C, v.E, v.A, v.N}
}

func (v TraitVector) Get(t Trait) int {
	return v.Array()[t]
}

func (v TraitVector) Validate() error {
	for i, x := range v.Array() {
		if x < MinTrait || x > MaxTrait {
			return fmt.Errorf("%s=%d out of range [%d,%d]", Trait(i), x, MinTrait, MaxTrait)
		}
	}
	return nil
}

func (v TraitVector) String() string {
	return fmt.Sprintf("{o:%d,c:%d,e:%d,a:%d,n:%d}", v.O, v.C, v.E, v.A, v.N)
}

// Gender is part of the profile identity; it changes the voice of the personas
// but never their trait arithmetic.
type Gender string

const (
	GenderFemale Gender = "female"
	GenderMale   Gender = "male"
	GenderOther  Gender = "other"
)

func ParseGender(s string) (Gender, error) {
	switch g := Gender(strings.ToLower(strings.TrimSpace(s))); g {
	case GenderFemale, GenderMale, GenderOther:
		return g, nil
	default:
		return "", fmt.Errorf("unknown gender %q", s)
	}
}

// Profile is a user's base vector plus gender.
type Profile struct {
	Traits TraitVector
	Gender Gender
}

func (p Profile) Key() string {
	return Encode(p.Traits, p.Gender)
}

// roundClamp rounds half away from zero and clamps into [lo,hi].
func roundClamp(x float64, lo, hi int) int {
	r := int(math.Round(x))
	if r < lo {
		return lo
	}
	if r > hi {
		return hi
	}
	return r
}
