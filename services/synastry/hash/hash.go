// Copyright (C) 2025 Ecliptic Labs (engineering@ecliptic.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hash derives deterministic cache keys from position sets and
// computation parameters.
//
// Hashing is order-independent by construction: bodies are always
// visited in canonical enum order, so map iteration order can never
// leak into a key. Identical chart data produces identical keys across
// processes and restarts, which is what makes the persistent cache tier
// addressable.
package hash

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/eclipticlabs/ecliptic/services/synastry/chart"
)

// OpSynastryMatrix is the operation tag for full synastry aspect
// matrices. Every caller that caches engine output must use the same
// tag, or identical computations would stop sharing entries.
const OpSynastryMatrix = "synastry_matrix"

// canonicalNaN is the bit pattern every NaN longitude is folded to, so
// hashes stay deterministic regardless of NaN payload bits.
var canonicalNaN = math.Float64bits(math.NaN())

// longitudeBits canonicalizes a longitude for hashing: -0.0 folds to
// +0.0 (they are the same angle) and all NaNs fold to one pattern.
func longitudeBits(lon float64) uint64 {
	if lon == 0 {
		return 0 // covers -0.0
	}
	if math.IsNaN(lon) {
		return canonicalNaN
	}
	return math.Float64bits(lon)
}

// Positions hashes a position set over the full canonical body list.
//
// Bodies absent from the set hash as longitude 0.0, matching the
// engine's missing-body semantics: two inputs the engine cannot tell
// apart share a key and therefore share a cache entry.
func Positions(ps chart.PositionSet) uint64 {
	d := xxhash.New()
	var buf [9]byte
	for i := 0; i < chart.BodyCount; i++ {
		buf[0] = byte(i)
		binary.LittleEndian.PutUint64(buf[1:], longitudeBits(ps.Longitude(chart.Body(i))))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// Params hashes the computation parameters that change engine output:
// the orb override (or its absence) and the aspect table contents.
func Params(orbOverride *float64, table *chart.AspectTable) uint64 {
	d := xxhash.New()
	var buf [8]byte

	if orbOverride != nil {
		_, _ = d.Write([]byte{1})
		binary.LittleEndian.PutUint64(buf[:], longitudeBits(*orbOverride))
		_, _ = d.Write(buf[:])
	} else {
		_, _ = d.Write([]byte{0})
	}

	if table != nil {
		for _, def := range table.Definitions() {
			binary.LittleEndian.PutUint64(buf[:], uint64(len(def.Name)))
			_, _ = d.Write(buf[:])
			_, _ = d.WriteString(def.Name)
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(def.ExactAngle))
			_, _ = d.Write(buf[:])
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(def.OrbTolerance))
			_, _ = d.Write(buf[:])
			_, _ = d.WriteString(string(def.Classification))
		}
	}
	return d.Sum64()
}

// CacheKey identifies one computation result. It is a value type:
// compare with ==, never mutate after construction.
type CacheKey struct {
	// Op names the operation ("synastry_matrix", ...), separating key
	// spaces of different result types.
	Op string

	// A and B are the position-set hashes of the two charts.
	A uint64

	// B see A.
	B uint64

	// Params covers orb override and aspect table.
	Params uint64
}

// Key assembles the CacheKey for one engine computation.
func Key(op string, a, b chart.PositionSet, orbOverride *float64, table *chart.AspectTable) CacheKey {
	return CacheKey{
		Op:     op,
		A:      Positions(a),
		B:      Positions(b),
		Params: Params(orbOverride, table),
	}
}

// String renders the key in its canonical textual form.
func (k CacheKey) String() string {
	return fmt.Sprintf("%s:%016x:%016x:%016x", k.Op, k.A, k.B, k.Params)
}

// Filename returns the stable on-disk name for this key: the hex form
// of the first 16 bytes of sha256 over String(), plus the blob suffix.
// sha256 keeps names uniform and path-safe no matter what Op contains.
func (k CacheKey) Filename() string {
	sum := sha256.Sum256([]byte(k.String()))
	return hex.EncodeToString(sum[:16]) + ".json"
}
