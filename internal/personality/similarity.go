package personality

// maxDistance is the largest possible L1 distance between two valid vectors.
const maxDistance = 5 * (MaxTrait - MinTrait)

// SimilarityScore is 1 - L1(a,b)/20, in [0,1]. It is informational only and
// never participates in cache identity.
func SimilarityScore(a, b TraitVector) float64 {
	aa, bb := a.Array(), b.Array()
	sum := 0
	for i := range aa {
		d := aa[i] - bb[i]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return 1 - float64(sum)/float64(maxDistance)
}
