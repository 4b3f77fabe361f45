package protocol

import "strings"

// Server lines recognized by Parse.
const (
	statusPrefix     = "[SYSTEM]: Статус — "
	themeInputPrefix = "[SYSTEM]: Главный игрок вводит тему"
	scenarioPrefix   = "[SYSTEM]: Ситуация:"
	answerSaved      = "[SYSTEM]: Ответ сохранён"
	resultPrefix     = "[RESULT]:"
	allStatsPrefix   = "[ALL_STATS]:"
	continuePrompt   = "[SYSTEM]: Вы хотите продолжить? [YES/NO]"
	enterScenario    = "[SYSTEM]: Введите ситуацию"

	resultDelimiter = "→"
)

// ContinueReply is the literal answer sent back over the room socket to accept
// the continuation prompt.
const ContinueReply = "YES"

// Event is the structured reading of one server text line.
type Event struct {
	// Raw is the line exactly as received.
	Raw string

	// Matched is false when no known pattern applied.
	Matched bool

	// Status is the status the line moves the room to, empty when unchanged.
	Status Status

	Theme    string
	HasTheme bool

	// AdminDetected is set only by the "enter a situation" prompt, which the
	// server sends exclusively to the round's main player.
	AdminDetected bool

	// NonAdminDetected is set by the "main player is entering the theme" notice
	// sent to everyone else.
	NonAdminDetected bool

	ContinuePrompt bool
}

// Parse maps a raw server line to an Event. Patterns are tried in a fixed
// order and the first match wins.
func Parse(raw string) Event {
	ev := Event{Raw: raw}
	line := strings.TrimRight(raw, " \t\r\n")

	switch {
	case strings.HasPrefix(line, statusPrefix):
		ev.Matched = true
		ev.Status = Status(strings.TrimPrefix(line, statusPrefix))

	case strings.HasPrefix(line, themeInputPrefix):
		ev.Matched = true
		ev.Status = StatusThemeInput
		ev.NonAdminDetected = true

	case strings.HasPrefix(line, scenarioPrefix):
		ev.Matched = true
		ev.Status = StatusWaitingForPlayerMessageAfterPrompt
		ev.Theme = strings.TrimSpace(strings.TrimPrefix(line, scenarioPrefix))
		ev.HasTheme = true

	case line == answerSaved:
		ev.Matched = true
		ev.Status = StatusWaitingForGPT

	case strings.HasPrefix(line, resultPrefix):
		ev.Matched = true
		ev.Status = StatusResultsReady
		if theme, ok := resultTheme(line); ok {
			ev.Theme = theme
			ev.HasTheme = true
		}

	case strings.HasPrefix(line, allStatsPrefix):
		ev.Matched = true
		ev.Status = StatusStatsReady

	case line == continuePrompt:
		ev.Matched = true
		ev.ContinuePrompt = true

	case line == enterScenario:
		ev.Matched = true
		ev.Status = StatusMainPlayerThinking
		ev.AdminDetected = true
	}

	return ev
}

// resultTheme extracts {theme} from "[RESULT]: {theme} → {outcome}".
func resultTheme(line string) (string, bool) {
	body := strings.TrimPrefix(line, resultPrefix)
	idx := strings.Index(body, resultDelimiter)
	if idx < 0 {
		return "", false
	}
	theme := strings.TrimSpace(body[:idx])
	if theme == "" {
		return "", false
	}
	return theme, true
}
