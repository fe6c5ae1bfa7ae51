// Package grid lays out indexed items in rows of fixed width.
package grid

// GetGridCoords returns the column and row of item index in a grid cols wide.
func GetGridCoords(index, cols int) (x, y int) {
	if cols <= 0 {
		return index, 0
	}
	return index % cols, index / cols
}
