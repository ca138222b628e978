package ticket

import (
	"math/rand/v2"
	"slices"
	"sort"
)

// maxDrafts bounds how many sweep-and-repair drafts are tried before the
// generator switches to the capacity-balanced layout.
const maxDrafts = 64

type Generator struct {
	rng *rand.Rand
}

// NewGenerator returns a generator drawing from rng. The generator is not
// safe for concurrent use; give each goroutine its own.
func NewGenerator(rng *rand.Rand) *Generator {
	return &Generator{rng: rng}
}

// Generate deals one ticket. The result always passes Validate.
func (g *Generator) Generate() Ticket {
	for range maxDrafts {
		t := g.draft()
		if Validate(t) == nil {
			return t
		}
	}
	return g.balanced()
}

// columnCounts sweeps left to right adding one number per column, capped at
// MaxPerCol, until the ticket holds Size numbers.
func columnCounts() [Cols]int {
	var counts [Cols]int
	total := 0
	for total < Size {
		for c := 0; c < Cols && total < Size; c++ {
			if counts[c] < MaxPerCol {
				counts[c]++
				total++
			}
		}
	}
	return counts
}

// pick draws n distinct numbers from column c, ascending.
func (g *Generator) pick(c, n int) []int {
	lo, hi := ColumnRange(c)
	perm := g.rng.Perm(hi - lo + 1)
	out := make([]int, n)
	for i := range n {
		out[i] = lo + perm[i]
	}
	slices.Sort(out)
	return out
}

func (g *Generator) draft() Ticket {
	var t Ticket
	counts := columnCounts()
	for c := range Cols {
		rows := g.rng.Perm(Rows)
		for i, n := range g.pick(c, counts[c]) {
			t[rows[i]][c] = n
		}
	}
	g.repairRows(&t)
	sortColumns(&t)
	return t
}

// repairRows trims over-full rows and tops up under-full rows with unused
// numbers from columns that have a free slot in that row.
func (g *Generator) repairRows(t *Ticket) {
	used := make(map[int]bool, Size)
	for _, n := range t.Numbers() {
		used[n] = true
	}
	for r := range Rows {
		filled := filledColumns(t, r)
		for len(filled) > PerRow {
			i := g.rng.IntN(len(filled))
			c := filled[i]
			delete(used, t[r][c])
			t[r][c] = 0
			filled = slices.Delete(filled, i, i+1)
		}
		for len(filled) < PerRow {
			var eligible []int
			for c := range Cols {
				if t[r][c] == 0 && len(unused(c, used)) > 0 {
					eligible = append(eligible, c)
				}
			}
			if len(eligible) == 0 {
				break
			}
			c := eligible[g.rng.IntN(len(eligible))]
			free := unused(c, used)
			n := free[g.rng.IntN(len(free))]
			t[r][c] = n
			used[n] = true
			filled = append(filled, c)
		}
	}
}

// balanced lays out column counts against row capacity so every row ends at
// exactly PerRow without any repair.
func (g *Generator) balanced() Ticket {
	var t Ticket
	counts := columnCounts()
	order := g.rng.Perm(Cols)
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })

	capacity := [Rows]int{PerRow, PerRow, PerRow}
	for _, c := range order {
		rows := g.rng.Perm(Rows)
		sort.SliceStable(rows, func(i, j int) bool { return capacity[rows[i]] > capacity[rows[j]] })
		chosen := rows[:counts[c]]
		slices.Sort(chosen)
		for i, n := range g.pick(c, counts[c]) {
			t[chosen[i]][c] = n
			capacity[chosen[i]]--
		}
	}
	return t
}

func filledColumns(t *Ticket, r int) []int {
	var out []int
	for c := range Cols {
		if t[r][c] != 0 {
			out = append(out, c)
		}
	}
	return out
}

func unused(c int, used map[int]bool) []int {
	lo, hi := ColumnRange(c)
	var out []int
	for n := lo; n <= hi; n++ {
		if !used[n] {
			out = append(out, n)
		}
	}
	return out
}

// sortColumns reorders each column's numbers ascending top to bottom without
// moving which cells are filled.
func sortColumns(t *Ticket) {
	for c := range Cols {
		var rows, nums []int
		for r := range Rows {
			if t[r][c] != 0 {
				rows = append(rows, r)
				nums = append(nums, t[r][c])
			}
		}
		slices.Sort(nums)
		for i, r := range rows {
			t[r][c] = nums[i]
		}
	}
}
