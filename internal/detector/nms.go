package detector

import (
	"sort"

	"github.com/dudu/facekit/internal/face"
)

// nms performs Non-Maximum Suppression on detected regions
func nms(regions []face.Region, iouThreshold float32) []face.Region {
	if len(regions) == 0 {
		return regions
	}

	// Sort by score (descending)
	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].Score > regions[j].Score
	})

	keep := make([]bool, len(regions))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(regions); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(regions); j++ {
			if !keep[j] {
				continue
			}
			if regions[i].IoU(regions[j]) > iouThreshold {
				keep[j] = false
			}
		}
	}

	result := make([]face.Region, 0, len(regions))
	for i, r := range regions {
		if keep[i] {
			result = append(result, r)
		}
	}

	return result
}
