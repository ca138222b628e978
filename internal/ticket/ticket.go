package ticket

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	Rows       = 3
	Cols       = 9
	PerRow     = 5
	Size       = Rows * PerRow
	MaxPerCol  = 3
	MaxNumber  = 90
	columnSpan = 10
)

var ErrInvalidTicket = errors.New("invalid ticket")

// Ticket is a 3x9 grid. A zero cell is empty.
type Ticket [Rows][Cols]int

// ColumnRange returns the inclusive bounds of numbers allowed in column c.
func ColumnRange(c int) (lo, hi int) {
	lo = c*columnSpan + 1
	hi = lo + columnSpan - 1
	if hi > MaxNumber {
		hi = MaxNumber
	}
	return lo, hi
}

// ColumnOf returns the column a number belongs to.
func ColumnOf(n int) int {
	c := (n - 1) / columnSpan
	if c >= Cols {
		c = Cols - 1
	}
	return c
}

func (t Ticket) Row(r int) []int {
	out := make([]int, 0, PerRow)
	for _, n := range t[r] {
		if n != 0 {
			out = append(out, n)
		}
	}
	return out
}

func (t Ticket) Numbers() []int {
	out := make([]int, 0, Size)
	for r := range Rows {
		out = append(out, t.Row(r)...)
	}
	return out
}

func (t Ticket) Contains(n int) bool {
	if n < 1 || n > MaxNumber {
		return false
	}
	c := ColumnOf(n)
	for r := range Rows {
		if t[r][c] == n {
			return true
		}
	}
	return false
}

// MarshalJSON encodes empty cells as null.
func (t Ticket) MarshalJSON() ([]byte, error) {
	grid := make([][]*int, Rows)
	for r := range Rows {
		grid[r] = make([]*int, Cols)
		for c := range Cols {
			if n := t[r][c]; n != 0 {
				grid[r][c] = &n
			}
		}
	}
	return json.Marshal(grid)
}

func (t *Ticket) UnmarshalJSON(data []byte) error {
	var grid [][]*int
	if err := json.Unmarshal(data, &grid); err != nil {
		return err
	}
	if len(grid) != Rows {
		return fmt.Errorf("%w: want %d rows, got %d", ErrInvalidTicket, Rows, len(grid))
	}
	var out Ticket
	for r, row := range grid {
		if len(row) != Cols {
			return fmt.Errorf("%w: row %d has %d cells", ErrInvalidTicket, r, len(row))
		}
		for c, n := range row {
			if n != nil {
				out[r][c] = *n
			}
		}
	}
	*t = out
	return nil
}

// Validate checks every structural rule a dealt ticket must satisfy.
func Validate(t Ticket) error {
	seen := make(map[int]bool, Size)
	total := 0
	for r := range Rows {
		filled := 0
		for c := range Cols {
			n := t[r][c]
			if n == 0 {
				continue
			}
			lo, hi := ColumnRange(c)
			if n < lo || n > hi {
				return fmt.Errorf("%w: %d outside column %d range %d-%d", ErrInvalidTicket, n, c, lo, hi)
			}
			if seen[n] {
				return fmt.Errorf("%w: duplicate number %d", ErrInvalidTicket, n)
			}
			seen[n] = true
			filled++
		}
		if filled != PerRow {
			return fmt.Errorf("%w: row %d has %d numbers", ErrInvalidTicket, r, filled)
		}
		total += filled
	}
	if total != Size {
		return fmt.Errorf("%w: %d numbers", ErrInvalidTicket, total)
	}
	for c := range Cols {
		prev, count := 0, 0
		for r := range Rows {
			n := t[r][c]
			if n == 0 {
				continue
			}
			if n <= prev {
				return fmt.Errorf("%w: column %d not ascending", ErrInvalidTicket, c)
			}
			prev = n
			count++
		}
		if count < 1 || count > MaxPerCol {
			return fmt.Errorf("%w: column %d has %d numbers", ErrInvalidTicket, c, count)
		}
	}
	return nil
}
