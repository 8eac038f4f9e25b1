package gate

import "sort"

// TrackPrediction is one track's predicted observation for the current
// frame, flattened for association. The Tracker produces these under its
// lock; Associate itself is a pure function over frame-local input and
// touches no shared state.
type TrackPrediction struct {
	TrackID int64
	X, Y    float32

	// Innovation covariance S = H*P*H^T + R, row-major 2x2.
	S00, S01, S10, S11 float32

	// HistoryLen is the number of accepted observations. At equal cost
	// the detection goes to the prediction with the longer history.
	HistoryLen int
}

// AssociationPair matches dets[DetIndex] to preds[TrackIndex] at Cost.
type AssociationPair struct {
	DetIndex   int
	TrackIndex int
	Cost       float32
}

// AssociationResult partitions one frame: a one-to-one partial matching
// plus the unmatched residuals on both sides. Indices refer to the input
// slices passed to Associate.
type AssociationResult struct {
	Pairs           []AssociationPair
	UnmatchedDets   []int
	UnmatchedTracks []int
}

// AssociateOptions selects the gate metric and assignment solver.
type AssociateOptions struct {
	// GatingDistanceSquared rejects pairs beyond this squared distance
	// in the chosen metric's units: normalised σ² for Mahalanobis,
	// px² for Euclidean.
	GatingDistanceSquared float32

	// Method is "greedy" nearest-neighbour or "optimal" Kuhn–Munkres.
	// Anything else falls back to optimal.
	Method string

	// Euclidean gates on squared pixel distance instead of Mahalanobis
	// against the innovation covariance.
	Euclidean bool
}

// Associate computes the one-to-one matching between a frame's detections
// and the tracks' predicted observations. Pairs beyond the gate are never
// matched. Ambiguity is expressed in the residuals, never as an error.
func Associate(dets []Detection, preds []TrackPrediction, opts AssociateOptions) AssociationResult {
	var res AssociationResult
	if len(dets) == 0 || len(preds) == 0 {
		for i := range dets {
			res.UnmatchedDets = append(res.UnmatchedDets, i)
		}
		for j := range preds {
			res.UnmatchedTracks = append(res.UnmatchedTracks, j)
		}
		return res
	}

	// Order track columns longest-history-first. Both solvers scan
	// columns in order and keep the first minimum, so equal-cost ties
	// resolve toward the longer history.
	order := make([]int, len(preds))
	for j := range order {
		order[j] = j
	}
	sort.SliceStable(order, func(a, b int) bool {
		pa, pb := preds[order[a]], preds[order[b]]
		if pa.HistoryLen != pb.HistoryLen {
			return pa.HistoryLen > pb.HistoryLen
		}
		return pa.TrackID < pb.TrackID
	})

	cost := make([][]float32, len(dets))
	for i := range dets {
		cost[i] = make([]float32, len(preds))
		for oj, j := range order {
			d2 := pairCost(dets[i], preds[j], opts.Euclidean)
			if d2 >= SingularDistanceRejection || d2 > opts.GatingDistanceSquared {
				cost[i][oj] = hungarianInf
			} else {
				cost[i][oj] = d2
			}
		}
	}

	var assign []int
	if opts.Method == "greedy" {
		assign = greedyAssign(cost)
	} else {
		assign = HungarianAssign(cost)
	}

	matchedTrack := make([]bool, len(preds))
	for i := range dets {
		oj := -1
		if i < len(assign) {
			oj = assign[i]
		}
		if oj >= 0 {
			j := order[oj]
			res.Pairs = append(res.Pairs, AssociationPair{DetIndex: i, TrackIndex: j, Cost: cost[i][oj]})
			matchedTrack[j] = true
		} else {
			res.UnmatchedDets = append(res.UnmatchedDets, i)
		}
	}
	for j := range preds {
		if !matchedTrack[j] {
			res.UnmatchedTracks = append(res.UnmatchedTracks, j)
		}
	}
	return res
}

// pairCost computes the squared gate distance between one detection and
// one prediction. A singular innovation covariance forbids the pair.
func pairCost(det Detection, pred TrackPrediction, euclidean bool) float32 {
	dx := det.X - pred.X
	dy := det.Y - pred.Y
	if euclidean {
		return dx*dx + dy*dy
	}

	d := pred.S00*pred.S11 - pred.S01*pred.S10
	if d < MinDeterminantThreshold {
		return SingularDistanceRejection
	}
	invS00 := pred.S11 / d
	invS01 := -pred.S01 / d
	invS10 := -pred.S10 / d
	invS11 := pred.S00 / d

	// d² = [dx dy] * S^-1 * [dx dy]^T
	return dx*dx*invS00 + dx*dy*(invS01+invS10) + dy*dy*invS11
}

// greedyAssign takes the globally cheapest admissible pair repeatedly
// until none remain. Costs ≥ hungarianInf are forbidden. Equal costs
// fall back to column order, which the caller has already arranged.
func greedyAssign(cost [][]float32) []int {
	type candidate struct {
		i, j int
		c    float32
	}
	var cands []candidate
	for i := range cost {
		for j := range cost[i] {
			if cost[i][j] < float32(hungarianInf) {
				cands = append(cands, candidate{i, j, cost[i][j]})
			}
		}
	}
	sort.SliceStable(cands, func(a, b int) bool {
		if cands[a].c != cands[b].c {
			return cands[a].c < cands[b].c
		}
		if cands[a].j != cands[b].j {
			return cands[a].j < cands[b].j
		}
		return cands[a].i < cands[b].i
	})

	assign := make([]int, len(cost))
	for i := range assign {
		assign[i] = -1
	}
	var usedCol []bool
	if len(cost) > 0 {
		usedCol = make([]bool, len(cost[0]))
	}
	for _, cd := range cands {
		if assign[cd.i] == -1 && !usedCol[cd.j] {
			assign[cd.i] = cd.j
			usedCol[cd.j] = true
		}
	}
	return assign
}
