// Package mapper converts map coordinates to H3 cells.
package mapper

import (
	"github.com/mohammed-shakir/bizmap/internal/core/model"
)

type Interface interface {
	CellForPoint(p model.LatLng, res int) (string, error)
	CellsForBounds(b model.Bounds, res int) ([]string, error)
}
