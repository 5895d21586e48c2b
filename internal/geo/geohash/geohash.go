// Package geohash implements base-32 geohash encoding and neighbour
// expansion. The pipeline uses precision 4 for hazard-zone cells and
// precision 6 for fine enrichment.
package geohash

import "strings"

const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// Direction selects one of the four cardinal neighbours.
type Direction int

const (
	Top Direction = iota
	Bottom
	Left
	Right
)

// Row maps for the standard adjacency algorithm, indexed [direction][parity]
// with parity 0 = even length, 1 = odd length.
var neighbourRows = [4][2]string{
	Top:    {"p0r21436x8zb9dcf5h7kjnmqesgutwvy", "bc01fg45238967deuvhjyznpkmstqrwx"},
	Bottom: {"14365h7k9dcfesgujnmqp0r2twvyx8zb", "238967debc01fg45kmstqrwxuvhjyznp"},
	Left:   {"238967debc01fg45kmstqrwxuvhjyznp", "14365h7k9dcfesgujnmqp0r2twvyx8zb"},
	Right:  {"bc01fg45238967deuvhjyznpkmstqrwx", "p0r21436x8zb9dcf5h7kjnmqesgutwvy"},
}

var borderRows = [4][2]string{
	Top:    {"prxz", "bcfguvyz"},
	Bottom: {"028b", "0145hjnp"},
	Left:   {"0145hjnp", "028b"},
	Right:  {"bcfguvyz", "prxz"},
}

// Encode returns the canonical geohash of (lat, lon) at the given precision.
func Encode(lat, lon float64, precision int) string {
	if precision <= 0 {
		return ""
	}
	var (
		latMin, latMax = -90.0, 90.0
		lonMin, lonMax = -180.0, 180.0
		out            strings.Builder
		bit            int
		ch             int
		evenBit        = true
	)
	out.Grow(precision)

	for out.Len() < precision {
		if evenBit {
			mid := (lonMin + lonMax) / 2
			if lon >= mid {
				ch = ch<<1 | 1
				lonMin = mid
			} else {
				ch <<= 1
				lonMax = mid
			}
		} else {
			mid := (latMin + latMax) / 2
			if lat >= mid {
				ch = ch<<1 | 1
				latMin = mid
			} else {
				ch <<= 1
				latMax = mid
			}
		}
		evenBit = !evenBit

		bit++
		if bit == 5 {
			out.WriteByte(base32[ch])
			bit, ch = 0, 0
		}
	}
	return out.String()
}

// Adjacent returns the neighbouring cell in the given direction, recursing
// into the parent cell when the last character falls off the row/column edge
// so polar and meridian boundaries need no special cases.
func Adjacent(cell string, dir Direction) string {
	if cell == "" {
		return ""
	}
	cell = strings.ToLower(cell)
	last := cell[len(cell)-1]
	parent := cell[:len(cell)-1]
	parity := len(cell) % 2 // 0 = even, 1 = odd

	if strings.IndexByte(borderRows[dir][parity], last) >= 0 && parent != "" {
		parent = Adjacent(parent, dir)
	}

	idx := strings.IndexByte(neighbourRows[dir][parity], last)
	if idx < 0 {
		return ""
	}
	return parent + string(base32[idx])
}

// Neighbours8 returns the cell itself plus its 8 surrounding cells. Cells
// that collapse at grid edges are dropped, so the result can be shorter than
// 9 only in degenerate cases.
func Neighbours8(cell string) []string {
	cell = strings.ToLower(cell)
	if cell == "" {
		return nil
	}

	top := Adjacent(cell, Top)
	bottom := Adjacent(cell, Bottom)
	left := Adjacent(cell, Left)
	right := Adjacent(cell, Right)

	candidates := []string{
		cell,
		top, bottom, left, right,
		Adjacent(top, Left), Adjacent(top, Right),
		Adjacent(bottom, Left), Adjacent(bottom, Right),
	}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c == "" || len(c) != len(cell) {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
