package detection

import (
	"sort"

	"github.com/samber/lo"
)

// Box is one raw detection in pixel coordinates; (X, Y) is the top-left
// corner.
type Box struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	W          int     `json:"w"`
	H          int     `json:"h"`
}

func (b Box) area() float64 {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return float64(b.W) * float64(b.H)
}

// IoU returns the intersection-over-union of two boxes.
func IoU(a, b Box) float64 {
	x0, y0 := max(a.X, b.X), max(a.Y, b.Y)
	x1, y1 := min(a.X+a.W, b.X+b.W), min(a.Y+a.H, b.Y+b.H)
	if x1 <= x0 || y1 <= y0 {
		return 0
	}
	inter := float64(x1-x0) * float64(y1-y0)
	union := a.area() + b.area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// FilterConfidence keeps boxes whose confidence exceeds threshold.
func FilterConfidence(boxes []Box, threshold float64) []Box {
	return lo.Filter(boxes, func(b Box, _ int) bool {
		return b.Confidence > threshold
	})
}

// NonMaxSuppression performs class-agnostic greedy NMS. Boxes are visited
// in descending confidence (ties keep input order); a box is kept unless
// it overlaps an already kept box by more than iouThreshold. The result is
// in descending confidence order.
func NonMaxSuppression(boxes []Box, iouThreshold float64) []Box {
	sorted := make([]Box, len(boxes))
	copy(sorted, boxes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]Box, 0, len(sorted))
	for _, b := range sorted {
		suppressed := lo.ContainsBy(kept, func(k Box) bool {
			return IoU(k, b) > iouThreshold
		})
		if !suppressed {
			kept = append(kept, b)
		}
	}
	return kept
}
