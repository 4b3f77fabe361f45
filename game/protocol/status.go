package protocol

// Status is the game status of a room as announced by the server.
type Status string

const (
	StatusUnknown                            Status = "UNKNOWN"
	StatusWaitingForPlayers                  Status = "WAITING_FOR_PLAYERS"
	StatusMainPlayerThinking                 Status = "MAIN_PLAYER_THINKING"
	StatusThemeInput                         Status = "THEME_INPUT"
	StatusScenarioPresented                  Status = "SCENARIO_PRESENTED"
	StatusWaitingForPlayerMessageAfterPrompt Status = "WAITING_FOR_PLAYER_MESSAGE_AFTER_PROMPT"
	StatusWaitingForGPT                      Status = "WAITING_FOR_GPT"
	StatusWaitingForAllAnswersFromGPT        Status = "WAITING_FOR_ALL_ANSWERS_FROM_GPT"
	StatusResultsReady                       Status = "RESULTS_READY"
	StatusStatsReady                         Status = "STATS_READY"
	StatusGameDone                           Status = "GAME_DONE"
	StatusClosed                             Status = "CLOSED"
)

var knownStatuses = map[Status]bool{
	StatusUnknown:                            true,
	StatusWaitingForPlayers:                  true,
	StatusMainPlayerThinking:                 true,
	StatusThemeInput:                         true,
	StatusScenarioPresented:                  true,
	StatusWaitingForPlayerMessageAfterPrompt: true,
	StatusWaitingForGPT:                      true,
	StatusWaitingForAllAnswersFromGPT:        true,
	StatusResultsReady:                       true,
	StatusStatsReady:                         true,
	StatusGameDone:                           true,
	StatusClosed:                             true,
}

// Known reports whether s is one of the statuses the client understands.
// The server is free to announce other names; they are carried as-is.
func (s Status) Known() bool {
	return knownStatuses[s]
}

// StartsRound reports whether s marks the beginning of a fresh round,
// which invalidates role detection from the previous one.
func (s Status) StartsRound() bool {
	return s == StatusWaitingForPlayers || s == StatusStatsReady
}

func (s Status) String() string {
	if s == "" {
		return string(StatusUnknown)
	}
	return string(s)
}
