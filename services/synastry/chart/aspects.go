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
	"fmt"
	"sort"
)

// Classification labels an aspect's traditional quality.
type Classification string

const (
	Harmonious  Classification = "harmonious"
	Challenging Classification = "challenging"
	Neutral     Classification = "neutral"
)

// Valid reports whether c is one of the three recognized classes.
func (c Classification) Valid() bool {
	switch c {
	case Harmonious, Challenging, Neutral:
		return true
	}
	return false
}

// AspectDefinition is one immutable row of an aspect table.
type AspectDefinition struct {
	// Name is the aspect's wire name ("conjunction", "trine", ...).
	Name string `json:"name" yaml:"name"`

	// ExactAngle is the aspect's exact separation in [0,180] degrees.
	ExactAngle float64 `json:"exact_angle" yaml:"exact_angle"`

	// OrbTolerance is the allowed deviation from ExactAngle, > 0.
	OrbTolerance float64 `json:"orb_tolerance" yaml:"orb_tolerance"`

	// Classification is the aspect's quality.
	Classification Classification `json:"classification" yaml:"classification"`
}

func (d AspectDefinition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidDefinition)
	}
	if d.ExactAngle < 0 || d.ExactAngle > 180 {
		return fmt.Errorf("%w: %s exact angle %.2f outside [0,180]", ErrInvalidDefinition, d.Name, d.ExactAngle)
	}
	if !(d.OrbTolerance > 0) { // also rejects NaN
		return fmt.Errorf("%w: %s orb tolerance %.2f must be positive", ErrInvalidDefinition, d.Name, d.OrbTolerance)
	}
	if !d.Classification.Valid() {
		return fmt.Errorf("%w: %s classification %q", ErrInvalidDefinition, d.Name, d.Classification)
	}
	return nil
}

// AspectTable is an immutable, validated set of aspect definitions held
// in ascending exact-angle order. Tables are built once at startup and
// shared freely across goroutines; they are never mutated afterwards.
type AspectTable struct {
	defs []AspectDefinition
}

// NewAspectTable validates defs and returns a table sorted ascending by
// exact angle (ties broken by name for determinism). The input slice is
// copied; later mutation of defs cannot affect the table.
func NewAspectTable(defs []AspectDefinition) (*AspectTable, error) {
	if len(defs) == 0 {
		return nil, ErrEmptyTable
	}
	sorted := make([]AspectDefinition, len(defs))
	copy(sorted, defs)
	for _, d := range sorted {
		if err := d.validate(); err != nil {
			return nil, err
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ExactAngle != sorted[j].ExactAngle {
			return sorted[i].ExactAngle < sorted[j].ExactAngle
		}
		return sorted[i].Name < sorted[j].Name
	})
	return &AspectTable{defs: sorted}, nil
}

// Definitions returns a copy of the table rows in ascending exact-angle
// order. Hot paths should call this once and hold the copy.
func (t *AspectTable) Definitions() []AspectDefinition {
	out := make([]AspectDefinition, len(t.defs))
	copy(out, t.defs)
	return out
}

// Len returns the number of definitions.
func (t *AspectTable) Len() int {
	return len(t.defs)
}

// defaultOrb is the orb applied to the major aspects; the worked
// defaults of the service assume 8 degrees across the Ptolemaic set.
const defaultOrb = 8.0

// MajorAspects returns the default table: the five Ptolemaic aspects
// with an 8 degree orb each.
func MajorAspects() *AspectTable {
	t, err := NewAspectTable([]AspectDefinition{
		{Name: "conjunction", ExactAngle: 0, OrbTolerance: defaultOrb, Classification: Neutral},
		{Name: "sextile", ExactAngle: 60, OrbTolerance: defaultOrb, Classification: Harmonious},
		{Name: "square", ExactAngle: 90, OrbTolerance: defaultOrb, Classification: Challenging},
		{Name: "trine", ExactAngle: 120, OrbTolerance: defaultOrb, Classification: Harmonious},
		{Name: "opposition", ExactAngle: 180, OrbTolerance: defaultOrb, Classification: Challenging},
	})
	if err != nil {
		panic(err) // static table, unreachable
	}
	return t
}

// ExtendedAspects returns the major table plus five minor aspects with
// the tight orbs conventional for them.
func ExtendedAspects() *AspectTable {
	defs := MajorAspects().Definitions()
	defs = append(defs,
		AspectDefinition{Name: "semisextile", ExactAngle: 30, OrbTolerance: 2, Classification: Neutral},
		AspectDefinition{Name: "semisquare", ExactAngle: 45, OrbTolerance: 2, Classification: Challenging},
		AspectDefinition{Name: "quintile", ExactAngle: 72, OrbTolerance: 2, Classification: Harmonious},
		AspectDefinition{Name: "sesquiquadrate", ExactAngle: 135, OrbTolerance: 2, Classification: Challenging},
		AspectDefinition{Name: "quincunx", ExactAngle: 150, OrbTolerance: 3, Classification: Neutral},
	)
	t, err := NewAspectTable(defs)
	if err != nil {
		panic(err) // static table, unreachable
	}
	return t
}
