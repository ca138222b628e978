package ws

import (
	"github.com/DoyleJ11/tambola-backend/internal/engine"
	"github.com/DoyleJ11/tambola-backend/internal/types"
)

// toEngineCommand maps a room-scoped client message onto an engine command.
// create_session and join_with_code are routed before a room is known and are
// not handled here.
func toEngineCommand(connID string, m types.ClientMessage) (engine.Command, bool) {
	cmd := engine.Command{ConnID: connID, PlayerCode: m.PlayerCode}

	switch m.Type {
	case "add_player":
		cmd.Type = engine.CmdAddPlayer
		cmd.PlayerName = m.PlayerName
	case "toggle_auto_mark":
		cmd.Type = engine.CmdToggleAutoMark
		cmd.Allowed = m.Allowed
	case "remove_player":
		cmd.Type = engine.CmdRemovePlayer
	case "assign_tickets":
		cmd.Type = engine.CmdAssignTickets
		cmd.Count = m.Count
	case "call_number":
		cmd.Type = engine.CmdCallNumber
	case "reset_session":
		cmd.Type = engine.CmdResetSession
	case "submit_claim":
		cmd.Type = engine.CmdSubmitClaim
		cmd.ClaimKind = m.ClaimType
	case "send_chat":
		cmd.Type = engine.CmdSendChat
		cmd.Message = m.Message
	default:
		return engine.Command{}, false
	}
	return cmd, true
}
