// Package selector picks the detection that drives the next actuation.
package selector

import (
	"github.com/samber/lo"

	"github.com/Capitan-Parrot/waste-sorter/internal/models"
)

// Select returns the detection with the highest score, or nil for an empty frame.
// Exact ties keep the earliest detection in input order.
func Select(detections []models.Detection) *models.Detection {
	if len(detections) == 0 {
		return nil
	}

	best := lo.MaxBy(detections, func(item, max models.Detection) bool {
		return item.Score > max.Score
	})
	return &best
}

// AboveConfidence drops detections scoring below min. Order is preserved.
func AboveConfidence(detections []models.Detection, min float64) []models.Detection {
	if min <= 0 {
		return detections
	}
	return lo.Filter(detections, func(d models.Detection, _ int) bool {
		return d.Score >= min
	})
}
