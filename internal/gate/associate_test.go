package gate

import (
	"testing"
)

func identityPrediction(id int64, x, y float32, historyLen int) TrackPrediction {
	return TrackPrediction{
		TrackID: id,
		X:       x, Y: y,
		S00: 1, S01: 0, S10: 0, S11: 1,
		HistoryLen: historyLen,
	}
}

func TestAssociate_EmptyInputs(t *testing.T) {
	opts := AssociateOptions{GatingDistanceSquared: 16, Method: "optimal"}

	res := Associate(nil, nil, opts)
	if len(res.Pairs) != 0 || len(res.UnmatchedDets) != 0 || len(res.UnmatchedTracks) != 0 {
		t.Errorf("expected empty result for empty inputs, got %+v", res)
	}

	res = Associate([]Detection{{X: 1}, {X: 2}}, nil, opts)
	if len(res.UnmatchedDets) != 2 {
		t.Errorf("expected 2 unmatched detections with no tracks, got %d", len(res.UnmatchedDets))
	}

	res = Associate(nil, []TrackPrediction{identityPrediction(1, 0, 0, 1)}, opts)
	if len(res.UnmatchedTracks) != 1 {
		t.Errorf("expected 1 unmatched track with no detections, got %d", len(res.UnmatchedTracks))
	}
}

func TestAssociate_SimpleMatch(t *testing.T) {
	dets := []Detection{
		{X: 0.5, Y: 0.0},
		{X: 20.5, Y: 0.0},
	}
	preds := []TrackPrediction{
		identityPrediction(1, 0, 0, 5),
		identityPrediction(2, 20, 0, 5),
	}

	res := Associate(dets, preds, AssociateOptions{
		GatingDistanceSquared: 16,
		Method:                "optimal",
	})

	if len(res.Pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d (%+v)", len(res.Pairs), res)
	}
	for _, pair := range res.Pairs {
		if pair.DetIndex != pair.TrackIndex {
			t.Errorf("expected det %d to match track %d, got track %d",
				pair.DetIndex, pair.DetIndex, pair.TrackIndex)
		}
	}
	if len(res.UnmatchedDets) != 0 || len(res.UnmatchedTracks) != 0 {
		t.Errorf("expected no residuals, got %+v", res)
	}
}

func TestAssociate_GateRejects(t *testing.T) {
	dets := []Detection{{X: 100, Y: 0}}
	preds := []TrackPrediction{identityPrediction(1, 0, 0, 3)}

	res := Associate(dets, preds, AssociateOptions{
		GatingDistanceSquared: 16,
		Method:                "optimal",
	})

	if len(res.Pairs) != 0 {
		t.Errorf("expected no pairs beyond gate, got %+v", res.Pairs)
	}
	if len(res.UnmatchedDets) != 1 || len(res.UnmatchedTracks) != 1 {
		t.Errorf("expected both sides unmatched, got %+v", res)
	}
}

func TestAssociate_MahalanobisGating(t *testing.T) {
	// S = diag(4,4): a detection 8px away has d² = 64/4 = 16.
	pred := TrackPrediction{TrackID: 1, X: 0, Y: 0, S00: 4, S01: 0, S10: 0, S11: 4, HistoryLen: 2}

	tests := []struct {
		name    string
		gate    float32
		matched bool
	}{
		{"at gate boundary accepted", 16.0, true},
		{"just inside gate", 16.1, true},
		{"below gate rejected", 15.9, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Associate(
				[]Detection{{X: 8, Y: 0}},
				[]TrackPrediction{pred},
				AssociateOptions{GatingDistanceSquared: tt.gate, Method: "optimal"},
			)
			got := len(res.Pairs) == 1
			if got != tt.matched {
				t.Errorf("gate %v: matched=%v, want %v", tt.gate, got, tt.matched)
			}
		})
	}
}

func TestAssociate_EuclideanGating(t *testing.T) {
	// Same geometry gated in px² instead of σ².
	pred := identityPrediction(1, 0, 0, 2)

	res := Associate(
		[]Detection{{X: 8, Y: 0}},
		[]TrackPrediction{pred},
		AssociateOptions{GatingDistanceSquared: 64, Method: "optimal", Euclidean: true},
	)
	if len(res.Pairs) != 1 {
		t.Errorf("expected match at px² gate boundary, got %+v", res)
	}

	res = Associate(
		[]Detection{{X: 8, Y: 0}},
		[]TrackPrediction{pred},
		AssociateOptions{GatingDistanceSquared: 63, Method: "optimal", Euclidean: true},
	)
	if len(res.Pairs) != 0 {
		t.Errorf("expected rejection below px² gate, got %+v", res)
	}
}

func TestAssociate_SingularCovarianceRejected(t *testing.T) {
	pred := TrackPrediction{TrackID: 1, X: 0, Y: 0, S00: 0, S01: 0, S10: 0, S11: 0, HistoryLen: 2}

	res := Associate(
		[]Detection{{X: 0.1, Y: 0}},
		[]TrackPrediction{pred},
		AssociateOptions{GatingDistanceSquared: 1e6, Method: "optimal"},
	)

	if len(res.Pairs) != 0 {
		t.Errorf("singular covariance must never match, got %+v", res.Pairs)
	}
}

func TestAssociate_TieBreakPrefersLongerHistory(t *testing.T) {
	// One detection exactly between two predictions. The track with the
	// longer observation history wins the tie under both solvers.
	dets := []Detection{{X: 5, Y: 0}}
	preds := []TrackPrediction{
		identityPrediction(1, 0, 0, 2),  // short history
		identityPrediction(2, 10, 0, 8), // long history
	}

	for _, method := range []string{"greedy", "optimal"} {
		t.Run(method, func(t *testing.T) {
			res := Associate(dets, preds, AssociateOptions{
				GatingDistanceSquared: 100,
				Method:                method,
				Euclidean:             true,
			})
			if len(res.Pairs) != 1 {
				t.Fatalf("expected 1 pair, got %+v", res)
			}
			if got := preds[res.Pairs[0].TrackIndex].TrackID; got != 2 {
				t.Errorf("tie should go to the longer history (track 2), got track %d", got)
			}
		})
	}
}

func TestAssociate_TieBreakEqualHistoryLowerID(t *testing.T) {
	dets := []Detection{{X: 5, Y: 0}}
	preds := []TrackPrediction{
		identityPrediction(7, 10, 0, 4),
		identityPrediction(3, 0, 0, 4),
	}

	for _, method := range []string{"greedy", "optimal"} {
		t.Run(method, func(t *testing.T) {
			res := Associate(dets, preds, AssociateOptions{
				GatingDistanceSquared: 100,
				Method:                method,
				Euclidean:             true,
			})
			if len(res.Pairs) != 1 {
				t.Fatalf("expected 1 pair, got %+v", res)
			}
			if got := preds[res.Pairs[0].TrackIndex].TrackID; got != 3 {
				t.Errorf("tie at equal history should go to the lower ID (track 3), got track %d", got)
			}
		})
	}
}

func TestAssociate_GreedyVersusOptimal(t *testing.T) {
	// Geometry where nearest-neighbour is globally suboptimal:
	// squared distances   track1  track2
	//          det0          1       2
	//          det1          2      10
	// Greedy grabs (det0,track1)+(det1,track2) = 11.
	// Optimal swaps to (det0,track2)+(det1,track1) = 4.
	dets := []Detection{
		{X: 0.75, Y: 0.66144},
		{X: -1.0, Y: 1.0},
	}
	preds := []TrackPrediction{
		identityPrediction(1, 0, 0, 4),
		identityPrediction(2, 2, 0, 4),
	}
	opts := AssociateOptions{GatingDistanceSquared: 100, Euclidean: true}

	opts.Method = "greedy"
	greedy := Associate(dets, preds, opts)
	if len(greedy.Pairs) != 2 {
		t.Fatalf("greedy: expected 2 pairs, got %+v", greedy)
	}
	greedyMatch := map[int]int64{}
	for _, pair := range greedy.Pairs {
		greedyMatch[pair.DetIndex] = preds[pair.TrackIndex].TrackID
	}
	if greedyMatch[0] != 1 || greedyMatch[1] != 2 {
		t.Errorf("greedy should take the local minimum: det0→1, det1→2, got %v", greedyMatch)
	}

	opts.Method = "optimal"
	optimal := Associate(dets, preds, opts)
	if len(optimal.Pairs) != 2 {
		t.Fatalf("optimal: expected 2 pairs, got %+v", optimal)
	}
	optimalMatch := map[int]int64{}
	var totalCost float32
	for _, pair := range optimal.Pairs {
		optimalMatch[pair.DetIndex] = preds[pair.TrackIndex].TrackID
		totalCost += pair.Cost
	}
	if optimalMatch[0] != 2 || optimalMatch[1] != 1 {
		t.Errorf("optimal should minimise total cost: det0→2, det1→1, got %v", optimalMatch)
	}
	if totalCost > 5.0 {
		t.Errorf("optimal total cost should be ≈4, got %v", totalCost)
	}
}

func TestAssociate_UnknownMethodFallsBackToOptimal(t *testing.T) {
	dets := []Detection{{X: 0.5, Y: 0}}
	preds := []TrackPrediction{identityPrediction(1, 0, 0, 1)}

	res := Associate(dets, preds, AssociateOptions{
		GatingDistanceSquared: 16,
		Method:                "hungarian-ish",
	})
	if len(res.Pairs) != 1 {
		t.Errorf("unknown method should still assign, got %+v", res)
	}
}

func TestAssociate_MoreDetectionsThanTracks(t *testing.T) {
	dets := []Detection{
		{X: 0.2, Y: 0},
		{X: 0.4, Y: 0},
		{X: 50, Y: 50},
	}
	preds := []TrackPrediction{identityPrediction(1, 0, 0, 6)}

	res := Associate(dets, preds, AssociateOptions{
		GatingDistanceSquared: 16,
		Method:                "optimal",
	})

	if len(res.Pairs) != 1 {
		t.Fatalf("expected exactly 1 pair, got %+v", res)
	}
	if res.Pairs[0].DetIndex != 0 {
		t.Errorf("closest detection should win, got det %d", res.Pairs[0].DetIndex)
	}
	if len(res.UnmatchedDets) != 2 {
		t.Errorf("expected 2 unmatched detections, got %v", res.UnmatchedDets)
	}
}
