// Package consensus scores provider votes against one another and selects
// the winning answer. Similarity is a token-set overlap over normalized
// content; the winner maximizes a composite of its own confidence and its
// mean agreement with the other votes.
package consensus

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jordanhubbard/wallbounce/internal/bounce"
)

const (
	confidenceWeight = 0.6
	agreementWeight  = 0.4

	unigramWeight = 0.5
	bigramWeight  = 0.5

	highAgreementFloor   = 0.75
	highConfidenceFloor  = 0.8
	mediumAgreementFloor = 0.5
)

// Engine computes consensus over a slice of votes. It is stateless and safe
// for concurrent use.
type Engine struct{}

func New() *Engine { return &Engine{} }

// Build fills each valid vote's agreement score, picks the winner, and
// assembles the consensus record. Error votes are excluded from scoring but
// kept on the debug surface with confidence and agreement forced to zero.
// An empty valid set fails with no_valid_votes.
func (e *Engine) Build(votes []bounce.Vote, tier bounce.TaskTier, mode bounce.Mode) (*bounce.Consensus, error) {
	if len(votes) == 0 {
		return nil, bounce.Errf(bounce.KindNoValidVotes, "no votes to score")
	}

	all := make([]bounce.Vote, len(votes))
	copy(all, votes)

	var valid []int
	for i := range all {
		if all[i].Failed() {
			all[i].Confidence = 0
			all[i].AgreementScore = 0
			continue
		}
		valid = append(valid, i)
	}
	if len(valid) == 0 {
		return nil, bounce.Errf(bounce.KindNoValidVotes, "all %d votes carry errors", len(all))
	}

	// Pairwise agreement over normalized content. A lone valid vote agrees
	// with nothing and scores 0.
	norms := make(map[int]string, len(valid))
	for _, i := range valid {
		norms[i] = NormalizeContent(all[i].Content)
	}
	for _, i := range valid {
		if len(valid) == 1 {
			all[i].AgreementScore = 0
			break
		}
		var sum float64
		for _, j := range valid {
			if i == j {
				continue
			}
			sum += similarityNormalized(norms[i], norms[j])
		}
		all[i].AgreementScore = sum / float64(len(valid)-1)
	}

	winner := pickWinner(all, valid)
	composite := compositeScore(all[winner])

	contributing := make([]bounce.Vote, 0, len(valid))
	for _, i := range valid {
		contributing = append(contributing, all[i])
	}

	cons := &bounce.Consensus{
		Content:            all[winner].Content,
		Confidence:         clamp01(composite),
		Reasoning:          reasoning(all[winner], contributing),
		ContributingVotes:  contributing,
		AllVotes:           all,
		ProvidersUsed:      providersUsed(all),
		TotalCostUSD:       totalCost(all),
		WallBounceVerified: distinctVendors(contributing) >= 2,
		QualityBand:        qualityBand(contributing),
		Tier:               tier,
		Mode:               mode,
	}
	return cons, nil
}

// pickWinner returns the index of the highest-composite valid vote.
// Ties break on higher confidence, then lower cost, then provider name.
func pickWinner(all []bounce.Vote, valid []int) int {
	ranked := make([]int, len(valid))
	copy(ranked, valid)
	sort.SliceStable(ranked, func(a, b int) bool {
		va, vb := all[ranked[a]], all[ranked[b]]
		ca, cb := compositeScore(va), compositeScore(vb)
		if ca != cb {
			return ca > cb
		}
		if va.Confidence != vb.Confidence {
			return va.Confidence > vb.Confidence
		}
		if va.CostUSD != vb.CostUSD {
			return va.CostUSD < vb.CostUSD
		}
		return va.Provider < vb.Provider
	})
	return ranked[0]
}

func compositeScore(v bounce.Vote) float64 {
	return confidenceWeight*v.Confidence + agreementWeight*v.AgreementScore
}

// Similarity scores two raw content strings in [0,1]. Symmetric, and 1 for
// identical non-empty content.
func Similarity(a, b string) float64 {
	return similarityNormalized(NormalizeContent(a), NormalizeContent(b))
}

func similarityNormalized(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	ua, ub := strings.Fields(a), strings.Fields(b)
	uni := jaccard(tokenSet(ua), tokenSet(ub))

	ba, bb := bigramSet(ua), bigramSet(ub)
	if len(ba) == 0 && len(bb) == 0 {
		// Single-word contents have no bigrams; the unigram signal stands
		// alone.
		return uni
	}
	return unigramWeight*uni + bigramWeight*jaccard(ba, bb)
}

// NormalizeContent lowercases, folds punctuation to spaces, and collapses
// whitespace so token overlap compares words rather than formatting.
func NormalizeContent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r > 127 && !isPunctLike(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func isPunctLike(r rune) bool {
	switch r {
	case '–', '—', '‘', '’', '“', '”', '…':
		return true
	}
	return false
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func bigramSet(tokens []string) map[string]struct{} {
	if len(tokens) < 2 {
		return nil
	}
	set := make(map[string]struct{}, len(tokens)-1)
	for i := 0; i+1 < len(tokens); i++ {
		set[tokens[i]+" "+tokens[i+1]] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// reasoning renders the fixed-format provider/score listing carried on the
// consensus, winner first.
func reasoning(winner bounce.Vote, contributing []bounce.Vote) string {
	var b strings.Builder
	fmt.Fprintf(&b, "consensus winner %s (%s) composite=%.3f;", winner.Provider, winner.Model, compositeScore(winner))
	b.WriteString(" votes:")
	for i, v := range contributing {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, " %s conf=%.2f agr=%.2f", v.Provider, v.Confidence, v.AgreementScore)
	}
	return b.String()
}

func providersUsed(all []bounce.Vote) []string {
	seen := make(map[string]struct{}, len(all))
	var out []string
	for _, v := range all {
		if _, ok := seen[v.Provider]; ok {
			continue
		}
		seen[v.Provider] = struct{}{}
		out = append(out, v.Provider)
	}
	return out
}

func totalCost(all []bounce.Vote) float64 {
	var sum float64
	for _, v := range all {
		sum += v.CostUSD
	}
	return sum
}

func distinctVendors(votes []bounce.Vote) int {
	seen := make(map[string]struct{}, len(votes))
	for _, v := range votes {
		if v.Vendor != "" {
			seen[v.Vendor] = struct{}{}
		}
	}
	return len(seen)
}

// qualityBand grades the round: high needs strong agreement and confidence,
// medium needs moderate agreement, everything else is low.
func qualityBand(votes []bounce.Vote) string {
	if len(votes) == 0 {
		return bounce.QualityLow
	}
	var agr, conf float64
	for _, v := range votes {
		agr += v.AgreementScore
		conf += v.Confidence
	}
	agr /= float64(len(votes))
	conf /= float64(len(votes))
	switch {
	case agr >= highAgreementFloor && conf >= highConfidenceFloor:
		return bounce.QualityHigh
	case agr >= mediumAgreementFloor:
		return bounce.QualityMedium
	default:
		return bounce.QualityLow
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
