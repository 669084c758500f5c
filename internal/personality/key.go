package personality

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var keyPattern = regexp.MustCompile(`^O(\d)_C(\d)_E(\d)_A(\d)_N(\d)_([a-z]+)$`)

// MalformedKeyError reports a personality key that does not decode.
type MalformedKeyError struct {
	Key    string
	Reason string
}

func (e *MalformedKeyError) Error() string {
	return fmt.Sprintf("malformed personality key %q: %s", e.Key, e.Reason)
}

// Encode renders the canonical key, e.g. O4_C2_E5_A3_N2_female.
func Encode(v TraitVector, g Gender) string {
	var b strings.Builder
	for i, x := range v.Array() {
		if i > 0 {
			b.WriteByte('_')
		}
		b.WriteString(traitLetters[i])
		b.WriteString(strconv.Itoa(x))
	}
	b.WriteByte('_')
	b.WriteString(string(g))
	return b.String()
}

// Decode is the exact inverse of Encode for every valid vector and gender.
func Decode(key string) (TraitVector, Gender, error) {
	m := keyPattern.FindStringSubmatch(key)
	if m == nil {
		return TraitVector{}, "", &MalformedKeyError{Key: key, Reason: "does not match O#_C#_E#_A#_N#_gender"}
	}
	var vals [5]int
	for i := 0; i < 5; i++ {
		n, _ := strconv.Atoi(m[i+1])
		vals[i] = n
	}
	v, err := FromArray(vals)
	if err != nil {
		return TraitVector{}, "", &MalformedKeyError{Key: key, Reason: err.Error()}
	}
	g, err := ParseGender(m[6])
	if err != nil {
		return TraitVector{}, "", &MalformedKeyError{Key: key, Reason: err.Error()}
	}
	return v, g, nil
}

// DecodeProfile is Decode returning a Profile.
func DecodeProfile(key string) (Profile, error) {
	v, g, err := Decode(key)
	if err != nil {
		return Profile{}, err
	}
	return Profile{Traits: v, Gender: g}, nil
}
