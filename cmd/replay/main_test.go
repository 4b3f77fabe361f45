package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wricardo/gpt-party/game/protocol"
	"github.com/wricardo/gpt-party/game/role"
)

var roundLog = []string{
	"[SYSTEM]: Статус — WAITING_FOR_PLAYERS",
	"[SYSTEM]: Введите ситуацию",
	"[SYSTEM]: Ситуация: Zombie outbreak",
	"hello from bob",
	"[RESULT]: Zombie outbreak → partial",
	"[ALL_STATS]: alice 3, bob 2",
	"[SYSTEM]: Главный игрок вводит тему",
}

func TestReplay_Round(t *testing.T) {
	steps, summary := Replay(roundLog, role.HintJoiner)

	if len(steps) != len(roundLog) {
		t.Fatalf("Expected %d steps, got %d", len(roundLog), len(steps))
	}

	if steps[1].Role != role.Admin {
		t.Errorf("Expected admin after the admin prompt, got %s", steps[1].Role)
	}
	if steps[2].Theme != "Zombie outbreak" {
		t.Errorf("Expected theme 'Zombie outbreak', got '%s'", steps[2].Theme)
	}
	if steps[2].Status != protocol.StatusWaitingForPlayerMessageAfterPrompt {
		t.Errorf("Expected WAITING_FOR_PLAYER_MESSAGE_AFTER_PROMPT, got %s", steps[2].Status)
	}
	if steps[3].Matched {
		t.Error("Expected chat line to be unrecognized")
	}
	if steps[5].Status != protocol.StatusStatsReady || !steps[5].NewRound {
		t.Errorf("Expected STATS_READY to start a round, got %s", steps[5].Status)
	}
	if steps[6].Role != role.Player {
		t.Errorf("Expected player after the non-admin line, got %s", steps[6].Role)
	}

	if summary.Lines != 7 {
		t.Errorf("Expected 7 lines, got %d", summary.Lines)
	}
	if summary.Unmatched != 1 {
		t.Errorf("Expected 1 unmatched line, got %d", summary.Unmatched)
	}
	if summary.Rounds != 2 {
		t.Errorf("Expected 2 rounds, got %d", summary.Rounds)
	}
	if summary.Final.Status != protocol.StatusThemeInput {
		t.Errorf("Expected final THEME_INPUT, got %s", summary.Final.Status)
	}
}

func TestReplay_UnknownStatus(t *testing.T) {
	_, summary := Replay([]string{
		"[SYSTEM]: Статус — DANCING",
		"[SYSTEM]: Статус — DANCING",
	}, role.HintNone)

	if len(summary.Unknown) != 1 || summary.Unknown[0] != "DANCING" {
		t.Errorf("Expected DANCING once in unknown statuses, got %v", summary.Unknown)
	}
	if summary.Final.Status != "DANCING" {
		t.Errorf("Expected unknown status to be kept, got %s", summary.Final.Status)
	}
}

func TestReadLines(t *testing.T) {
	lines, err := readLines(strings.NewReader("first\n\n  \nsecond\r\n"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d: %q", len(lines), lines)
	}

	lines, err = readLines(strings.NewReader(`{"count":2,"entries":[{"text":"[SYSTEM]: Введите ситуацию"},{"text":"multi\nline"}]}`))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(lines) != 2 || lines[1] != "multi\nline" {
		t.Errorf("Unexpected transcript lines: %q", lines)
	}

	if _, err := readLines(strings.NewReader(`{"entries":`)); err == nil {
		t.Error("Expected error for broken JSON")
	}
}

func TestReplayFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "round.log")
	if err := os.WriteFile(path, []byte(strings.Join(roundLog, "\n")), 0644); err != nil {
		t.Fatalf("Failed to write log: %v", err)
	}

	var out bytes.Buffer
	if err := replayFile(path, role.HintCreator, false, &out); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	text := out.String()
	if !strings.Contains(text, "Final status: THEME_INPUT") {
		t.Errorf("Expected final status in output:\n%s", text)
	}
	if !strings.Contains(text, "theme=Zombie outbreak") {
		t.Errorf("Expected theme in timeline:\n%s", text)
	}
	if !strings.Contains(text, "?    4") {
		t.Errorf("Expected unmatched marker on line 4:\n%s", text)
	}

	out.Reset()
	if err := replayFile(path, role.HintCreator, true, &out); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if strings.Contains(out.String(), "theme=") {
		t.Errorf("Expected summary only in quiet mode:\n%s", out.String())
	}

	if err := replayFile(filepath.Join(t.TempDir(), "missing.log"), role.HintNone, false, &out); err == nil {
		t.Error("Expected error for missing file")
	}
}
