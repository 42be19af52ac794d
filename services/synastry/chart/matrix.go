// Copyright (C) 2025 Ecliptic Labs (engineering@ecliptic.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chart

import (
	"encoding/json"
	"fmt"
)

// AspectCell is the classified relationship of one (row body, column
// body) pair: which aspect matched and by how much it misses the exact
// angle. A pair with no matching definition has no cell.
type AspectCell struct {
	// Aspect is the matching definition's name.
	Aspect string `json:"aspect"`

	// Orb is |separation - exact angle|, always >= 0 and strictly
	// below the definition's orb tolerance.
	Orb float64 `json:"orb"`

	// Classification is the matching definition's quality; the JSON
	// field is "type" for wire compatibility.
	Classification Classification `json:"type"`
}

// AspectMatrix is the dense BodyCount x BodyCount grid of aspect cells
// between two position sets: rows are bodies of set A, columns bodies
// of set B, both in canonical order.
//
// A matrix is immutable once built. At returns cells by value, and the
// JSON form is a 2D array whose entries are null or
// {"aspect": ..., "orb": ..., "type": ...}.
type AspectMatrix struct {
	cells []*AspectCell // flat row-major, length BodyCount*BodyCount
}

// NewMatrix builds a matrix from a flat row-major cell slice. The slice
// must hold exactly BodyCount*BodyCount entries (nil entries mean "no
// aspect"); it is retained, so the caller must not reuse it.
func NewMatrix(cells []*AspectCell) (*AspectMatrix, error) {
	if len(cells) != BodyCount*BodyCount {
		return nil, fmt.Errorf("%w: %d cells, want %d", ErrMatrixShape, len(cells), BodyCount*BodyCount)
	}
	return &AspectMatrix{cells: cells}, nil
}

// At returns the cell for (row, col) by value. ok is false when no
// aspect matched that pair or either index is out of range.
func (m *AspectMatrix) At(row, col Body) (AspectCell, bool) {
	if !row.Valid() || !col.Valid() {
		return AspectCell{}, false
	}
	c := m.cells[int(row)*BodyCount+int(col)]
	if c == nil {
		return AspectCell{}, false
	}
	return *c, true
}

// CellCount returns the number of populated (non-nil) cells.
func (m *AspectMatrix) CellCount() int {
	n := 0
	for _, c := range m.cells {
		if c != nil {
			n++
		}
	}
	return n
}

// EstimatedBytes approximates the matrix's in-memory footprint for
// cache accounting: pointer grid plus populated cell payloads.
func (m *AspectMatrix) EstimatedBytes() int64 {
	const (
		ptrSize  = 8
		cellSize = 64 // struct + string headers, rounded up
	)
	size := int64(len(m.cells)) * ptrSize
	for _, c := range m.cells {
		if c != nil {
			size += cellSize + int64(len(c.Aspect)) + int64(len(c.Classification))
		}
	}
	return size
}

// MarshalJSON encodes the matrix as a 2D array of nullable cells.
func (m *AspectMatrix) MarshalJSON() ([]byte, error) {
	grid := make([][]*AspectCell, BodyCount)
	for r := 0; r < BodyCount; r++ {
		grid[r] = m.cells[r*BodyCount : (r+1)*BodyCount]
	}
	return json.Marshal(grid)
}

// UnmarshalJSON decodes the 2D array form produced by MarshalJSON.
// Grids with the wrong shape are rejected with ErrMatrixShape.
func (m *AspectMatrix) UnmarshalJSON(data []byte) error {
	var grid [][]*AspectCell
	if err := json.Unmarshal(data, &grid); err != nil {
		return fmt.Errorf("decode aspect matrix: %w", err)
	}
	if len(grid) != BodyCount {
		return fmt.Errorf("%w: %d rows, want %d", ErrMatrixShape, len(grid), BodyCount)
	}
	cells := make([]*AspectCell, 0, BodyCount*BodyCount)
	for r, row := range grid {
		if len(row) != BodyCount {
			return fmt.Errorf("%w: row %d has %d columns, want %d", ErrMatrixShape, r, len(row), BodyCount)
		}
		cells = append(cells, row...)
	}
	m.cells = cells
	return nil
}
