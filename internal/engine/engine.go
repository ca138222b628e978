package engine

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/DoyleJ11/tambola-backend/internal/claim"
)

var ErrUnknownPlayer = errors.New("unknown player")
var ErrNotHost = errors.New("caller is not the host")
var ErrNumbersExhausted = errors.New("all numbers called")
var ErrUnsupportedCommand = errors.New("unsupported command")
var ErrEmptyMessage = errors.New("empty chat message")
var ErrUnknownAuthor = errors.New("unknown chat author")

// HostAuthor is the author code the host uses for chat.
const HostAuthor = "HOST"

type CommandType string

const (
	CmdAddPlayer      CommandType = "add_player"
	CmdToggleAutoMark CommandType = "toggle_auto_mark"
	CmdRemovePlayer   CommandType = "remove_player"
	CmdAssignTickets  CommandType = "assign_tickets"
	CmdCallNumber     CommandType = "call_number"
	CmdResetSession   CommandType = "reset_session"
	CmdJoinWithCode   CommandType = "join_with_code"
	CmdSubmitClaim    CommandType = "submit_claim"
	CmdSendChat       CommandType = "send_chat"
	CmdDisconnect     CommandType = "disconnect"
)

// Command is one inbound action against a session. ConnID is always the
// connection that issued it.
type Command struct {
	Type       CommandType
	ConnID     string
	PlayerCode string
	PlayerName string
	Allowed    bool
	Count      int
	ClaimKind  string
	Message    string
}

type EventType string

const (
	EvtSessionCreated     EventType = "session_created"
	EvtPlayerAdded        EventType = "player_added"
	EvtRoster             EventType = "roster"
	EvtAutoMarkPermission EventType = "auto_mark_permission"
	EvtPlayerRemoved      EventType = "player_removed"
	EvtTicketAssigned     EventType = "ticket_assigned"
	EvtTicketsUpdated     EventType = "tickets_updated"
	EvtNumberCalled       EventType = "number_called"
	EvtSessionReset       EventType = "session_reset"
	EvtJoined             EventType = "joined"
	EvtJoinError          EventType = "join_error"
	EvtForceLogout        EventType = "force_logout"
	EvtClaimAccepted      EventType = "claim_accepted"
	EvtClaimRejected      EventType = "claim_rejected"
	EvtChatMessage        EventType = "chat_message"
	EvtError              EventType = "error"
)

type Audience int

const (
	ToRoom Audience = iota
	ToConn
)

// Event is one outbound notification, addressed to the whole room or to a
// single connection.
type Event struct {
	Type    EventType
	To      Audience
	ConnID  string
	Payload any
}

func roomEvent(t EventType, payload any) Event {
	return Event{Type: t, To: ToRoom, Payload: payload}
}

func connEvent(t EventType, connID string, payload any) Event {
	return Event{Type: t, To: ToConn, ConnID: connID, Payload: payload}
}

// Apply runs one command to completion. A non-nil error means the command
// was dropped and the session is unchanged. Rejected claims and failed joins
// are ordinary outcomes and come back as events.
func (s *Session) Apply(cmd Command) ([]Event, error) {
	switch cmd.Type {
	case CmdAddPlayer:
		return s.addPlayer(cmd)
	case CmdToggleAutoMark:
		return s.toggleAutoMark(cmd)
	case CmdRemovePlayer:
		return s.removePlayer(cmd)
	case CmdAssignTickets:
		return s.assignTickets(cmd)
	case CmdCallNumber:
		return s.callNumber()
	case CmdResetSession:
		return s.reset(cmd)
	case CmdJoinWithCode:
		return s.join(cmd)
	case CmdSubmitClaim:
		return s.submitClaim(cmd)
	case CmdSendChat:
		return s.sendChat(cmd)
	case CmdDisconnect:
		return s.disconnect(cmd)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCommand, cmd.Type)
	}
}

func (s *Session) addPlayer(cmd Command) ([]Event, error) {
	code, err := s.codes.Allocate(s.Code)
	if err != nil {
		return nil, fmt.Errorf("allocate player code: %w", err)
	}
	p := &Player{
		Code:   code,
		Name:   strings.TrimSpace(cmd.PlayerName),
		Status: StatusOffline,
	}
	s.players[code] = p
	return []Event{
		connEvent(EvtPlayerAdded, cmd.ConnID, PlayerAdded{PlayerCode: code, PlayerName: p.Name}),
		roomEvent(EvtRoster, s.Roster()),
	}, nil
}

func (s *Session) toggleAutoMark(cmd Command) ([]Event, error) {
	if !s.IsHost(cmd.ConnID) {
		return nil, ErrNotHost
	}
	p, err := s.player(cmd.PlayerCode)
	if err != nil {
		return nil, err
	}
	p.AllowAutoMark = cmd.Allowed
	var events []Event
	if p.ConnID != "" {
		events = append(events, connEvent(EvtAutoMarkPermission, p.ConnID, AutoMarkPermission{Allowed: cmd.Allowed}))
	}
	return append(events, roomEvent(EvtRoster, s.Roster())), nil
}

func (s *Session) removePlayer(cmd Command) ([]Event, error) {
	if !s.IsHost(cmd.ConnID) {
		return nil, ErrNotHost
	}
	p, err := s.player(cmd.PlayerCode)
	if err != nil {
		return nil, err
	}
	delete(s.players, p.Code)
	s.codes.Release(p.Code)

	events := []Event{roomEvent(EvtPlayerRemoved, PlayerRemoved{PlayerCode: p.Code})}
	if p.ConnID != "" {
		events = append(events, connEvent(EvtForceLogout, p.ConnID, ForceLogout{Reason: LogoutRemoved}))
	}
	return append(events, roomEvent(EvtRoster, s.Roster())), nil
}

func (s *Session) assignTickets(cmd Command) ([]Event, error) {
	p, err := s.player(cmd.PlayerCode)
	if err != nil {
		return nil, err
	}
	count := cmd.Count
	if count <= 0 {
		count = 1
	}
	if count > s.limits.MaxTicketsPerAssign {
		count = s.limits.MaxTicketsPerAssign
	}
	for range count {
		p.Tickets = append(p.Tickets, s.tickets.Generate())
	}

	events := []Event{roomEvent(EvtTicketAssigned, TicketAssigned{PlayerCode: p.Code, TicketCount: len(p.Tickets)})}
	if p.ConnID != "" {
		events = append(events, connEvent(EvtTicketsUpdated, p.ConnID, TicketsUpdated{Tickets: slices.Clone(p.Tickets)}))
	}
	return events, nil
}

func (s *Session) callNumber() ([]Event, error) {
	n, ok := s.draw.next(s.rng)
	if !ok {
		return nil, ErrNumbersExhausted
	}
	return []Event{roomEvent(EvtNumberCalled, NumberCalled{Number: n, Called: s.draw.History()})}, nil
}

func (s *Session) reset(cmd Command) ([]Event, error) {
	if !s.IsHost(cmd.ConnID) {
		return nil, ErrNotHost
	}
	s.draw = newDraw()
	s.claims = claim.NewLedger()
	for _, p := range s.players {
		p.Tickets = nil
	}
	return []Event{roomEvent(EvtSessionReset, SessionReset{RoomCode: s.Code})}, nil
}

func (s *Session) join(cmd Command) ([]Event, error) {
	p, ok := s.players[NormalizeCode(cmd.PlayerCode)]
	if !ok {
		return []Event{connEvent(EvtJoinError, cmd.ConnID, JoinError{Message: "Invalid player code"})}, nil
	}

	var events []Event
	if p.ConnID != "" && p.ConnID != cmd.ConnID {
		events = append(events, connEvent(EvtForceLogout, p.ConnID, ForceLogout{Reason: LogoutSuperseded}))
	}
	// A connection speaks for at most one player.
	for _, other := range s.players {
		if other != p && other.ConnID == cmd.ConnID {
			other.ConnID = ""
			other.Status = StatusOffline
		}
	}
	p.ConnID = cmd.ConnID
	p.Status = StatusOnline

	return append(events,
		connEvent(EvtJoined, cmd.ConnID, s.joinedView(p)),
		roomEvent(EvtRoster, s.Roster()),
	), nil
}

func (s *Session) submitClaim(cmd Command) ([]Event, error) {
	kind, _ := claim.ParseKind(cmd.ClaimKind)
	var claimant *claim.Claimant
	if p, ok := s.players[NormalizeCode(cmd.PlayerCode)]; ok {
		claimant = &claim.Claimant{Code: p.Code, Name: p.Name, Tickets: p.Tickets}
	}

	verdict := claim.Evaluate(s.claims, claimant, kind, s.draw)
	if !verdict.Accepted {
		return []Event{connEvent(EvtClaimRejected, cmd.ConnID, ClaimRejected{ClaimType: cmd.ClaimKind})}, nil
	}
	s.claims[kind] = verdict.Winner
	return []Event{roomEvent(EvtClaimAccepted, ClaimAccepted{
		ClaimType:  kind,
		Winner:     verdict.Winner,
		PlayerCode: claimant.Code,
	})}, nil
}

func (s *Session) sendChat(cmd Command) ([]Event, error) {
	msg := strings.TrimSpace(cmd.Message)
	if msg == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(msg) > s.limits.ChatMaxLen {
		msg = string([]rune(msg)[:s.limits.ChatMaxLen])
	}

	var author string
	if code := NormalizeCode(cmd.PlayerCode); code == HostAuthor {
		if !s.IsHost(cmd.ConnID) {
			return nil, ErrNotHost
		}
		author = "Host"
	} else {
		p, ok := s.players[code]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownAuthor, cmd.PlayerCode)
		}
		author = p.DisplayName()
	}

	entry := ChatEntry{Author: author, Message: msg, Time: s.now().UTC()}
	s.chat = append(s.chat, entry)
	if over := len(s.chat) - s.limits.ChatHistoryLimit; over > 0 {
		s.chat = append([]ChatEntry(nil), s.chat[over:]...)
	}
	return []Event{roomEvent(EvtChatMessage, entry)}, nil
}

func (s *Session) disconnect(cmd Command) ([]Event, error) {
	for _, p := range s.players {
		if p.ConnID == cmd.ConnID {
			p.ConnID = ""
			p.Status = StatusOffline
			return []Event{roomEvent(EvtRoster, s.Roster())}, nil
		}
	}
	return nil, nil
}

func (s *Session) player(code string) (*Player, error) {
	p, ok := s.players[NormalizeCode(code)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlayer, code)
	}
	return p, nil
}

// NormalizeCode upper-cases and trims a room or player code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
