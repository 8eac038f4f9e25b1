package gate

import "math"

// Internal numerical stability constants — not user-tunable.
const (
	// MinDeterminantThreshold is the minimum determinant for innovation
	// covariance inversion. Below this the estimator is degenerate.
	MinDeterminantThreshold = 1e-6
	// SingularDistanceRejection is the distance returned when covariance
	// is singular, far beyond any plausible gate.
	SingularDistanceRejection = 1e9
)

// initialCovariance seeds a new track's 4x4 covariance: high position
// uncertainty, lower velocity uncertainty.
var initialCovariance = [16]float32{
	10, 0, 0, 0,
	0, 10, 0, 0,
	0, 0, 1, 0,
	0, 0, 0, 1,
}

// isFiniteState returns true if every element of the estimator state
// (X, Y, VX, VY) is finite and every covariance diagonal element is
// finite and non-negative. A negative variance means the update step
// destroyed positive semi-definiteness; the track cannot recover.
func isFiniteState(track *Track) bool {
	if math.IsNaN(float64(track.X)) || math.IsInf(float64(track.X), 0) {
		return false
	}
	if math.IsNaN(float64(track.Y)) || math.IsInf(float64(track.Y), 0) {
		return false
	}
	if math.IsNaN(float64(track.VX)) || math.IsInf(float64(track.VX), 0) {
		return false
	}
	if math.IsNaN(float64(track.VY)) || math.IsInf(float64(track.VY), 0) {
		return false
	}
	for i := 0; i < 4; i++ {
		v := float64(track.P[i*4+i])
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return false
		}
	}
	return true
}

// predict applies the Kalman prediction step using the constant velocity
// model. On numerical degeneracy the track is marked degenerate; the
// caller force-retires it at the end of the frame.
func (t *Tracker) predict(track *Track, dt float32) {
	// Clamp dt so frame gaps (replay catch-up, stalled camera) don't
	// balloon the gating ellipse quadratically.
	if dt > t.Config.MaxPredictDt {
		dt = t.Config.MaxPredictDt
	}

	// State transition matrix F for constant velocity model:
	// F = [1  0  dt  0 ]
	//     [0  1  0   dt]
	//     [0  0  1   0 ]
	//     [0  0  0   1 ]

	// Predict state: x' = F * x
	track.X += track.VX * dt
	track.Y += track.VY * dt
	// VX and VY remain unchanged in constant velocity model

	// Predict covariance: P' = F * P * F^T + Q
	P := track.P

	// F * P:
	// Row 0: P[0,j] + dt*P[2,j]
	// Row 1: P[1,j] + dt*P[3,j]
	// Row 2: P[2,j]
	// Row 3: P[3,j]
	var FP [16]float32
	for j := 0; j < 4; j++ {
		FP[0*4+j] = P[0*4+j] + dt*P[2*4+j]
		FP[1*4+j] = P[1*4+j] + dt*P[3*4+j]
		FP[2*4+j] = P[2*4+j]
		FP[3*4+j] = P[3*4+j]
	}

	// (F * P) * F^T
	for i := 0; i < 4; i++ {
		track.P[i*4+0] = FP[i*4+0] + dt*FP[i*4+2]
		track.P[i*4+1] = FP[i*4+1] + dt*FP[i*4+3]
		track.P[i*4+2] = FP[i*4+2]
		track.P[i*4+3] = FP[i*4+3]
	}

	// Add process noise Q, scaled by dt for correct uncertainty growth
	// regardless of frame rate. Values in Config are dt-normalised.
	track.P[0*4+0] += t.Config.ProcessNoisePos * dt
	track.P[1*4+1] += t.Config.ProcessNoisePos * dt
	track.P[2*4+2] += t.Config.ProcessNoiseVel * dt
	track.P[3*4+3] += t.Config.ProcessNoiseVel * dt

	// Cap covariance diagonal elements to prevent unbounded gating
	// ellipse growth from accumulated prediction steps.
	for i := 0; i < 4; i++ {
		if track.P[i*4+i] > t.Config.MaxCovarianceDiag {
			track.P[i*4+i] = t.Config.MaxCovarianceDiag
		}
	}

	if !isFiniteState(track) {
		t.markDegenerate(track, "predict")
	}
}

// innovationCovariance computes S = H * P * H^T + R for a track.
// H extracts position only, so S = P[0:2, 0:2] + R.
func (t *Tracker) innovationCovariance(track *Track) (s00, s01, s10, s11 float32) {
	s00 = track.P[0*4+0] + t.Config.MeasurementNoise
	s01 = track.P[0*4+1]
	s10 = track.P[1*4+0]
	s11 = track.P[1*4+1] + t.Config.MeasurementNoise
	return
}

// kalmanUpdate applies the Kalman update step with a matched detection.
// Returns false when the innovation covariance is singular or the update
// produced a non-finite state; the track is marked degenerate.
func (t *Tracker) kalmanUpdate(track *Track, det Detection) bool {
	// Innovation
	yX := det.X - track.X
	yY := det.Y - track.Y

	s00, s01, s10, s11 := t.innovationCovariance(track)

	det2 := s00*s11 - s01*s10
	if det2 < MinDeterminantThreshold {
		t.markDegenerate(track, "update singular")
		return false
	}

	invS00 := s11 / det2
	invS01 := -s01 / det2
	invS10 := -s10 / det2
	invS11 := s00 / det2

	// Kalman gain K = P * H^T * S^-1 (4x2)
	// K[i,0] = P[i,0]*invS00 + P[i,1]*invS10
	// K[i,1] = P[i,0]*invS01 + P[i,1]*invS11
	var K [8]float32
	for i := 0; i < 4; i++ {
		K[i*2+0] = track.P[i*4+0]*invS00 + track.P[i*4+1]*invS10
		K[i*2+1] = track.P[i*4+0]*invS01 + track.P[i*4+1]*invS11
	}

	// Update state: x' = x + K * y
	track.X += K[0*2+0]*yX + K[0*2+1]*yY
	track.Y += K[1*2+0]*yX + K[1*2+1]*yY
	track.VX += K[2*2+0]*yX + K[2*2+1]*yY
	track.VY += K[3*2+0]*yX + K[3*2+1]*yY

	// Update covariance: P' = (I - K*H) * P
	// H[0,0]=1, H[1,1]=1, rest zero, so (K*H)[i,0]=K[i,0], (K*H)[i,1]=K[i,1].
	var IminusKH [16]float32
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			identity := float32(0)
			if i == j {
				identity = 1
			}
			var kh float32
			if j == 0 {
				kh = K[i*2+0]
			} else if j == 1 {
				kh = K[i*2+1]
			}
			IminusKH[i*4+j] = identity - kh
		}
	}

	var newP [16]float32
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float32
			for k := 0; k < 4; k++ {
				sum += IminusKH[i*4+k] * track.P[k*4+j]
			}
			newP[i*4+j] = sum
		}
	}
	track.P = newP

	if !isFiniteState(track) {
		t.markDegenerate(track, "update")
		return false
	}
	return true
}

// markDegenerate flags a track whose estimator can no longer be trusted.
// The track is moved to Lost so this frame's retirement pass archives it;
// the crossing outcome is forced to Indeterminate.
func (t *Tracker) markDegenerate(track *Track, where string) {
	track.degenerate = true
	track.Status = TrackLost
	Diagf("track %d estimator degenerate during %s, force-retiring", track.ID, where)
}
