package model

// Detection is one embedded entry of summary.detections.
type Detection struct {
	Class          string         `json:"class"`
	ClassLocalized string         `json:"class_localized,omitempty"`
	Confidence     float64        `json:"confidence"`
	BBox           [4]int         `json:"bbox"`
	BBoxSize       BBoxSize       `json:"bbox_size"`
	DefectSummary  *DefectSummary `json:"defect_summary,omitempty"`
	IsManual       bool           `json:"is_manual"`
}

// BBoxSize is the derived pixel geometry of a bbox.
type BBoxSize struct {
	W       int  `json:"w"`
	H       int  `json:"h"`
	Area    int  `json:"area"`
	IsSmall bool `json:"is_small"`
}

// smallThresholdPx is the original's is_small = width < 30 or height < 30.
const smallThresholdPx = 30

// NewBBoxSize derives a BBoxSize from a [x1,y1,x2,y2] bbox.
func NewBBoxSize(bbox [4]int) BBoxSize {
	w := bbox[2] - bbox[0]
	h := bbox[3] - bbox[1]
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return BBoxSize{
		W:       w,
		H:       h,
		Area:    w * h,
		IsSmall: w < smallThresholdPx || h < smallThresholdPx,
	}
}

// DefectSummary describes the defect classification of a detection.
type DefectSummary struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Description string `json:"description,omitempty"`
}

// ManualBox is one client-drawn box from the annotate endpoint.
type ManualBox struct {
	X        int
	Y        int
	Width    int
	Height   int
	Name     string
	IsDefect *bool // nil defaults to true
}

// ToDetection converts a user-drawn box into a manual detection entry.
func (m ManualBox) ToDetection() Detection {
	isDefect := true
	if m.IsDefect != nil {
		isDefect = *m.IsDefect
	}
	defectType := "Норма"
	severity := "none"
	if isDefect {
		defectType = "Повреждение"
		severity = "manual"
	}
	bbox := [4]int{m.X, m.Y, m.X + m.Width, m.Y + m.Height}
	class := m.Name
	if class == "" {
		class = "manual"
	}
	return Detection{
		Class:      class,
		Confidence: 1.0,
		BBox:       bbox,
		BBoxSize:   NewBBoxSize(bbox),
		DefectSummary: &DefectSummary{
			Type:     defectType,
			Severity: severity,
		},
		IsManual: true,
	}
}

// MergeManual replaces only the is_manual=true subset of detections with
// newManual, preserving every non-manual entry, then
// recomputes aggregate counts.
func (s *Summary) MergeManual(newManual []ManualBox) {
	kept := make([]Detection, 0, len(s.Detections))
	for _, d := range s.Detections {
		if !d.IsManual {
			kept = append(kept, d)
		}
	}
	for _, m := range newManual {
		kept = append(kept, m.ToDetection())
	}
	s.Detections = kept
	s.Recompute()
}

// ReplaceAll replaces every detection with client-supplied ones (the
// `.../metrics` endpoint; distinct from the merge policy in that it
// discards the prior list wholesale instead of preserving non-manual
// entries).
func (s *Summary) ReplaceAll(detections []Detection) {
	s.Detections = detections
	s.Recompute()
}
