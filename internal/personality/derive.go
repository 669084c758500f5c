package personality

// Variant is one derived council persona. Variants are rebuilt per request and
// never stored; only the base profile key is persisted.
type Variant struct {
	ID          Role
	DisplayName string
	Icon        string
	Side        GroupSide
	Traits      TraitVector
	// Key is the canonical key of the variant's own vector, stable across devices.
	Key string
}

const idealExtraversionTarget = 3.5

// Derive expands a base profile into the six council variants in Roles order.
// It is pure: equal inputs always produce equal outputs.
func Derive(p Profile) []Variant {
	u := p.Traits
	out := make([]Variant, 0, len(Roles))
	for _, r := range Roles {
		traits := deriveTraits(r, u)
		info := roleTable[r]
		out = append(out, Variant{
			ID:          r,
			DisplayName: info.DisplayName,
			Icon:        info.Icon,
			Side:        info.Side,
			Traits:      traits,
			Key:         Encode(traits, p.Gender),
		})
	}
	return out
}

// DeriveRole returns a single variant's vector.
func DeriveRole(r Role, u TraitVector) TraitVector {
	return deriveTraits(r, u)
}

func deriveTraits(r Role, u TraitVector) TraitVector {
	switch r {
	case RoleOpposite:
		return TraitVector{
			O: clampInt(6 - u.O),
			C: clampInt(6 - u.C),
			E: clampInt(6 - u.E),
			A: clampInt(6 - u.A),
			N: clampInt(6 - u.N),
		}
	case RoleIdeal:
		return TraitVector{
			O: clampInt(max(u.O, 4)),
			C: clampInt(max(u.C, 4)),
			E: roundClamp(stepToward(float64(u.E), idealExtraversionTarget, 1), MinTrait, MaxTrait),
			A: clampInt(max(u.A, 4)),
			N: clampInt(max(u.N, 4)),
		}
	case RoleUnfiltered:
		return TraitVector{
			O: roundClamp(float64(u.O)+1.5, MinTrait, MaxTrait),
			C: roundClamp(float64(u.C)-2, MinTrait, MaxTrait),
			E: roundClamp(float64(u.E)+1.5, MinTrait, MaxTrait),
			A: roundClamp(float64(u.A)-2.5, MinTrait, MaxTrait),
			N: roundClamp(float64(u.N)-1.5, MinTrait, MaxTrait),
		}
	case RoleChildhood:
		return TraitVector{
			O: 5,
			C: 1,
			E: clampInt(max(u.E+1, 4)),
			A: 3,
			N: 2,
		}
	case RoleElder:
		return TraitVector{
			O: roundClamp(float64(u.O)-1, 2, MaxTrait),
			C: roundClamp(float64(u.C)+0.5, MinTrait, MaxTrait),
			E: roundClamp(float64(u.E)-1, 2, MaxTrait),
			A: roundClamp(float64(u.A)+1, MinTrait, MaxTrait),
			N: roundClamp(float64(u.N)+1.5, MinTrait, MaxTrait),
		}
	default:
		return u
	}
}

// stepToward moves x toward target by at most step without crossing it.
func stepToward(x, target, step float64) float64 {
	switch {
	case x < target:
		return min(x+step, target)
	case x > target:
		return max(x-step, target)
	default:
		return x
	}
}

func clampInt(x int) int {
	return roundClamp(float64(x), MinTrait, MaxTrait)
}
