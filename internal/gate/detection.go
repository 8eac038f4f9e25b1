package gate

// Detection is a single unlabeled observation: the centroid of one
// detected insect in pane pixel coordinates, plus its bounding box and
// an optional reference to the image crop saved for classification.
// Detections are ephemeral and consumed within the frame that produced
// them; persistent identity lives on Track.
type Detection struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	W float32 `json:"w,omitempty"`
	H float32 `json:"h,omitempty"`
	// CropRef names the stored crop for this detection ("" when the
	// detector captured no crop). Carried through to classification
	// requests, never interpreted here.
	CropRef string `json:"crop_ref,omitempty"`
}

// DetectionFrame is one frame's worth of detections with capture time.
// Frames must be delivered in nondecreasing timestamp order.
type DetectionFrame struct {
	FrameIndex int64       `json:"frame_index"`
	UnixNanos  int64       `json:"unix_nanos"`
	Detections []Detection `json:"detections"`
}

// TrackPoint represents a single accepted observation in a track's history.
type TrackPoint struct {
	X          float32 `json:"x"`
	Y          float32 `json:"y"`
	FrameIndex int64   `json:"frame_index"`
	UnixNanos  int64   `json:"unix_nanos"`
}
