package acquire

import "github.com/mohammed-shakir/bizmap/internal/core/model"

// Grid splits b into latParts x lonParts cells. Cells on the north and east
// edges are clamped so they never extend past b.
func Grid(b model.Bounds, latParts, lonParts int) []model.Bounds {
	if latParts < 1 {
		latParts = 1
	}
	if lonParts < 1 {
		lonParts = 1
	}
	latStep := (b.North - b.South) / float64(latParts)
	lonStep := (b.East - b.West) / float64(lonParts)

	out := make([]model.Bounds, 0, latParts*lonParts)
	for i := 0; i < latParts; i++ {
		s := b.South + float64(i)*latStep
		for j := 0; j < lonParts; j++ {
			w := b.West + float64(j)*lonStep
			out = append(out, model.Bounds{
				South: s,
				West:  w,
				North: min(s+latStep, b.North),
				East:  min(w+lonStep, b.East),
			})
		}
	}
	return out
}
