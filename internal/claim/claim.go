// Package claim adjudicates prize claims against a player's tickets and the
// numbers called so far. It holds no state of its own.
package claim

import (
	"strings"

	"github.com/DoyleJ11/tambola-backend/internal/ticket"
)

type Kind string

const (
	FirstFive  Kind = "FIRST_FIVE"
	FirstLine  Kind = "FIRST_LINE"
	MiddleLine Kind = "MIDDLE_LINE"
	LastLine   Kind = "LAST_LINE"
	FullHouse  Kind = "FULL_HOUSE"
)

// Kinds lists every prize in display order.
var Kinds = []Kind{FirstFive, FirstLine, MiddleLine, LastLine, FullHouse}

func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, true
		}
	}
	return "", false
}

// Called reports whether a number has been drawn.
type Called interface {
	Has(n int) bool
}

// Ledger maps each kind to its winner's display name; "" means unclaimed.
type Ledger map[Kind]string

func NewLedger() Ledger {
	l := make(Ledger, len(Kinds))
	for _, k := range Kinds {
		l[k] = ""
	}
	return l
}

// Claimant is the player making a claim.
type Claimant struct {
	Code    string
	Name    string
	Tickets []ticket.Ticket
}

// DisplayName is the name recorded on the ledger.
func (c Claimant) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Code
}

type Verdict struct {
	Accepted bool
	Winner   string
}

// Evaluate decides a claim. Checks run in order and stop at the first
// failure: kind still open, claimant known with tickets, some ticket
// satisfies the pattern. The ledger is only read.
func Evaluate(ledger Ledger, claimant *Claimant, kind Kind, called Called) Verdict {
	if winner, known := ledger[kind]; !known || winner != "" {
		return Verdict{}
	}
	if claimant == nil || len(claimant.Tickets) == 0 {
		return Verdict{}
	}
	if !AnySatisfies(claimant.Tickets, kind, called) {
		return Verdict{}
	}
	return Verdict{Accepted: true, Winner: claimant.DisplayName()}
}

func AnySatisfies(tickets []ticket.Ticket, kind Kind, called Called) bool {
	for _, t := range tickets {
		if Satisfies(t, kind, called) {
			return true
		}
	}
	return false
}

func Satisfies(t ticket.Ticket, kind Kind, called Called) bool {
	switch kind {
	case FirstFive:
		return Marked(t, called) >= 5
	case FirstLine:
		return LineComplete(t, 0, called)
	case MiddleLine:
		return LineComplete(t, 1, called)
	case LastLine:
		return LineComplete(t, 2, called)
	case FullHouse:
		nums := t.Numbers()
		return len(nums) > 0 && Marked(t, called) == len(nums)
	default:
		return false
	}
}

// Marked counts ticket numbers that have been called.
func Marked(t ticket.Ticket, called Called) int {
	n := 0
	for _, num := range t.Numbers() {
		if called.Has(num) {
			n++
		}
	}
	return n
}

// LineComplete reports whether every number in row r has been called.
func LineComplete(t ticket.Ticket, r int, called Called) bool {
	if r < 0 || r >= ticket.Rows {
		return false
	}
	row := t.Row(r)
	if len(row) == 0 {
		return false
	}
	for _, num := range row {
		if !called.Has(num) {
			return false
		}
	}
	return true
}
