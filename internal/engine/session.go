package engine

import (
	"maps"
	"math/rand/v2"
	"slices"
	"sort"
	"time"

	"github.com/DoyleJ11/tambola-backend/internal/claim"
	"github.com/DoyleJ11/tambola-backend/internal/ticket"
)

type Status string

const (
	StatusOnline  Status = "ONLINE"
	StatusOffline Status = "OFFLINE"
)

type Player struct {
	Code          string
	Name          string
	Tickets       []ticket.Ticket
	ConnID        string
	Status        Status
	AllowAutoMark bool
}

func (p *Player) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Code
}

type ChatEntry struct {
	Author  string    `json:"author"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// TicketSource deals tickets.
type TicketSource interface {
	Generate() ticket.Ticket
}

// CodeAllocator hands out player codes that are unique across every room.
type CodeAllocator interface {
	Allocate(roomCode string) (string, error)
	Release(playerCode string)
}

type Limits struct {
	MaxTicketsPerAssign int
	ChatHistoryLimit    int
	ChatMaxLen          int
}

func DefaultLimits() Limits {
	return Limits{MaxTicketsPerAssign: 12, ChatHistoryLimit: 200, ChatMaxLen: 500}
}

type Deps struct {
	Tickets TicketSource
	Codes   CodeAllocator
	Rand    *rand.Rand
	Now     func() time.Time
	Limits  Limits
}

// Session is one room's game state. It is not safe for concurrent use; the
// lobby that owns it is its only caller.
type Session struct {
	Code       string
	HostConnID string

	players map[string]*Player
	draw    *draw
	claims  claim.Ledger
	chat    []ChatEntry

	tickets TicketSource
	codes   CodeAllocator
	rng     *rand.Rand
	now     func() time.Time
	limits  Limits
}

func NewSession(code, hostConnID string, deps Deps) *Session {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if deps.Tickets == nil {
		deps.Tickets = ticket.NewGenerator(deps.Rand)
	}
	if deps.Limits == (Limits{}) {
		deps.Limits = DefaultLimits()
	}
	return &Session{
		Code:       code,
		HostConnID: hostConnID,
		players:    make(map[string]*Player),
		draw:       newDraw(),
		claims:     claim.NewLedger(),
		tickets:    deps.Tickets,
		codes:      deps.Codes,
		rng:        deps.Rand,
		now:        deps.Now,
		limits:     deps.Limits,
	}
}

func (s *Session) IsHost(connID string) bool {
	return connID != "" && connID == s.HostConnID
}

// Player returns the player with the given code.
func (s *Session) Player(code string) (*Player, bool) {
	p, ok := s.players[NormalizeCode(code)]
	return p, ok
}

// BoundPlayer returns the code of the player linked to connID, if any.
func (s *Session) BoundPlayer(connID string) (string, bool) {
	if connID == "" {
		return "", false
	}
	for code, p := range s.players {
		if p.ConnID == connID {
			return code, true
		}
	}
	return "", false
}

func (s *Session) PlayerCodes() []string {
	codes := slices.Collect(maps.Keys(s.players))
	sort.Strings(codes)
	return codes
}

func (s *Session) Called() []int { return s.draw.History() }

func (s *Session) Current() int { return s.draw.current }

func (s *Session) Claims() map[claim.Kind]string { return maps.Clone(s.claims) }

// Chat returns the chat log, never nil.
func (s *Session) Chat() []ChatEntry { return append([]ChatEntry{}, s.chat...) }

func (s *Session) Roster() Roster {
	out := Roster{Players: make([]RosterEntry, 0, len(s.players))}
	for _, code := range s.PlayerCodes() {
		p := s.players[code]
		out.Players = append(out.Players, RosterEntry{
			PlayerCode:    p.Code,
			PlayerName:    p.Name,
			Status:        p.Status,
			TicketCount:   len(p.Tickets),
			AllowAutoMark: p.AllowAutoMark,
		})
	}
	return out
}

// Stats summarises the room for read-only HTTP views.
func (s *Session) Stats() Stats {
	st := Stats{
		RoomCode: s.Code,
		Players:  len(s.players),
		Called:   len(s.draw.order),
		Current:  s.draw.current,
		Claims:   s.Claims(),
	}
	for _, p := range s.players {
		if p.Status == StatusOnline {
			st.Online++
		}
	}
	return st
}

func (s *Session) joinedView(p *Player) Joined {
	return Joined{
		RoomCode:      s.Code,
		PlayerCode:    p.Code,
		PlayerName:    p.Name,
		Tickets:       append([]ticket.Ticket{}, p.Tickets...),
		Called:        s.draw.History(),
		Current:       s.draw.current,
		Claims:        s.Claims(),
		Chat:          s.Chat(),
		AllowAutoMark: p.AllowAutoMark,
	}
}

// draw is the called-number history with O(1) membership.
type draw struct {
	order   []int
	seen    [ticket.MaxNumber + 1]bool
	current int
}

func newDraw() *draw { return &draw{} }

func (d *draw) Has(n int) bool {
	return n >= 1 && n <= ticket.MaxNumber && d.seen[n]
}

// History returns the called numbers in order, never nil.
func (d *draw) History() []int { return append([]int{}, d.order...) }

// next draws uniformly from the numbers not yet called.
func (d *draw) next(rng *rand.Rand) (int, bool) {
	remaining := ticket.MaxNumber - len(d.order)
	if remaining == 0 {
		return 0, false
	}
	k := rng.IntN(remaining)
	for n := 1; n <= ticket.MaxNumber; n++ {
		if d.seen[n] {
			continue
		}
		if k == 0 {
			d.seen[n] = true
			d.order = append(d.order, n)
			d.current = n
			return n, true
		}
		k--
	}
	return 0, false
}
