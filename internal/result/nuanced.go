package result

import (
	"fmt"
	"sort"

	"consentline/internal/domain"
)

// Mention scales, best mention first.
var scales = map[int][]string{
	3: {"GOOD", "PASSABLE", "INSUFFICIENT"},
	5: {"EXCELLENT", "GOOD", "PASSABLE", "INSUFFICIENT", "TO_REJECT"},
	7: {"EXCELLENT", "VERY_GOOD", "GOOD", "FAIRLY_GOOD", "PASSABLE", "INSUFFICIENT", "TO_REJECT"},
}

// ValidScale reports whether n is a supported number of mention levels.
func ValidScale(n int) bool {
	_, ok := scales[n]
	return ok
}

// MentionLabels returns the labels of a scale, best first.
func MentionLabels(n int) []string {
	return append([]string(nil), scales[n]...)
}

// Rank is one row of a majority judgment ranking.
type Rank struct {
	ProposalID      string `json:"proposal_id"`
	Rank            int    `json:"rank"`
	MajorityMention string `json:"majority_mention,omitempty"`
	Distribution    []int  `json:"distribution"`
}

type candidate struct {
	proposal domain.Proposal
	// mentions sorted best (0) to worst
	mentions []int
}

// majorityIndex is the lower median: with an even count the worse of the
// two middle mentions wins.
func majorityIndex(n int) int {
	return n / 2
}

// compareCandidates orders by majority mention, breaking ties by repeatedly
// removing one majority mention from both sides. Negative means a ranks first.
func compareCandidates(a, b []int) int {
	x := append([]int(nil), a...)
	y := append([]int(nil), b...)
	for {
		switch {
		case len(x) == 0 && len(y) == 0:
			return 0
		case len(x) == 0:
			return 1
		case len(y) == 0:
			return -1
		}
		ix, iy := majorityIndex(len(x)), majorityIndex(len(y))
		if x[ix] != y[iy] {
			if x[ix] < y[iy] {
				return -1
			}
			return 1
		}
		x = append(x[:ix], x[ix+1:]...)
		y = append(y[:iy], y[iy+1:]...)
	}
}

// RankProposals applies majority judgment to mentions per proposal.
func RankProposals(proposals []domain.Proposal, mentions map[string][]int, scale int) ([]Rank, error) {
	labels, ok := scales[scale]
	if !ok {
		return nil, fmt.Errorf("unsupported nuanced scale %d", scale)
	}
	cands := make([]candidate, 0, len(proposals))
	for _, p := range orderedProposals(proposals) {
		ms := append([]int(nil), mentions[p.ID]...)
		sort.Ints(ms)
		cands = append(cands, candidate{proposal: p, mentions: ms})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return compareCandidates(cands[i].mentions, cands[j].mentions) < 0
	})
	ranks := make([]Rank, 0, len(cands))
	for i, c := range cands {
		r := Rank{ProposalID: c.proposal.ID, Rank: i + 1, Distribution: make([]int, scale)}
		if i > 0 && compareCandidates(cands[i-1].mentions, c.mentions) == 0 {
			r.Rank = ranks[i-1].Rank
		}
		for _, m := range c.mentions {
			r.Distribution[m]++
		}
		if len(c.mentions) > 0 {
			r.MajorityMention = labels[c.mentions[majorityIndex(len(c.mentions))]]
		}
		ranks = append(ranks, r)
	}
	return ranks, nil
}

func nuanced(in Input, active []domain.Ballot, d Details) (Outcome, error) {
	if !ValidScale(in.Scale) {
		return Outcome{}, fmt.Errorf("unsupported nuanced scale %d", in.Scale)
	}
	known := make(map[string]bool, len(in.Proposals))
	for _, p := range in.Proposals {
		known[p.ID] = true
	}
	mentions := make(map[string][]int, len(in.Proposals))
	for _, b := range active {
		for pid, m := range b.Payload.Mentions {
			if !known[pid] {
				return Outcome{}, fmt.Errorf("ballot %s references unknown proposal %q", b.ID, pid)
			}
			if m < 0 || m >= in.Scale {
				return Outcome{}, fmt.Errorf("ballot %s: mention %d outside scale %d", b.ID, m, in.Scale)
			}
			mentions[pid] = append(mentions[pid], m)
		}
	}
	ranking, err := RankProposals(in.Proposals, mentions, in.Scale)
	if err != nil {
		return Outcome{}, err
	}
	d.Ranking = ranking
	if len(active) == 0 {
		return Outcome{Result: domain.ResultRejected, Details: d}, nil
	}
	winners := in.WinnerCount
	if winners < 1 {
		winners = 1
	}
	for i := 0; i < len(ranking) && i < winners; i++ {
		d.Winners = append(d.Winners, ranking[i].ProposalID)
	}
	return Outcome{Result: domain.ResultApproved, Details: d}, nil
}
