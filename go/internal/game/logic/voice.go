package logic

// AllPlayers addresses every participant of a voice room.
const AllPlayers = "*"

// VoiceCommand mutes or unmutes one participant (or AllPlayers).
type VoiceCommand struct {
	PlayerID string `json:"player_id"`
	Mute     bool   `json:"mute"`
}

// CanSpeak reports whether playerID may use voice in the current phase.
func CanSpeak(s *GameState, playerID string) bool {
	if s.Phase == PhaseGameEnded {
		return true
	}
	if !s.Alive[playerID] {
		return false
	}
	switch {
	case s.Phase == PhaseNightMafia:
		return s.Roles[playerID] == RoleMafia
	case s.Phase.IsNight():
		return false
	}
	return true
}

// VoiceConfig maps every seated player to whether they may speak now.
func VoiceConfig(s *GameState) map[string]bool {
	out := make(map[string]bool, len(s.Players))
	for _, p := range s.Players {
		out[p] = CanSpeak(s, p)
	}
	return out
}

// VoiceCommands returns the mute commands that bring a room in line with the
// current phase: a room-wide command followed by per-player exceptions.
func VoiceCommands(s *GameState) []VoiceCommand {
	if s.Phase == PhaseGameEnded {
		return []VoiceCommand{{PlayerID: AllPlayers, Mute: false}}
	}

	if s.Phase.IsNight() {
		cmds := []VoiceCommand{{PlayerID: AllPlayers, Mute: true}}
		if s.Phase == PhaseNightMafia {
			for _, p := range s.PlayersWithRole(RoleMafia, true) {
				cmds = append(cmds, VoiceCommand{PlayerID: p, Mute: false})
			}
		}
		return cmds
	}

	cmds := []VoiceCommand{{PlayerID: AllPlayers, Mute: false}}
	for _, p := range s.Players {
		if !s.Alive[p] {
			cmds = append(cmds, VoiceCommand{PlayerID: p, Mute: true})
		}
	}
	return cmds
}
