// Command replay runs a saved log of server lines through the message parser
// and role detector and prints the resulting status, theme and role timeline.
// It reads plain text (one server line per line) or the JSON returned by the
// local API's transcript endpoint.
//
//	replay [-role creator|joiner] [-quiet] [file ...]
//
// With no files it reads standard input.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/wricardo/gpt-party/game/protocol"
	"github.com/wricardo/gpt-party/game/role"
)

// Step is the reconciled state after one server line.
type Step struct {
	Line          int
	Raw           string
	Matched       bool
	Status        protocol.Status
	Theme         string
	Role          role.Role
	AdminDetected bool
	NewRound      bool
}

// Summary describes a whole replay.
type Summary struct {
	Lines     int
	Unmatched int
	Rounds    int
	Unknown   []protocol.Status
	Final     Step
}

func main() {
	hint := flag.String("role", "", "role hint: creator or joiner")
	quiet := flag.Bool("quiet", false, "print only the summary")
	flag.Parse()

	inputs := flag.Args()
	if len(inputs) == 0 {
		inputs = []string{"-"}
	}

	failed := false
	for _, in := range inputs {
		if len(inputs) > 1 {
			fmt.Printf("\n=== Replaying %s ===\n", in)
		}
		if err := replayFile(in, role.ParseHint(*hint), *quiet, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error replaying %s: %v\n", in, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func replayFile(path string, hint role.Hint, quiet bool, out io.Writer) error {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	lines, err := readLines(r)
	if err != nil {
		return err
	}

	steps, summary := Replay(lines, hint)
	if !quiet {
		for _, s := range steps {
			fmt.Fprintln(out, formatStep(s))
		}
	}
	fmt.Fprint(out, formatSummary(summary))
	return nil
}

// readLines accepts plain text or {"entries":[{"text":...}]}.
func readLines(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		var transcript struct {
			Entries []struct {
				Text string `json:"text"`
			} `json:"entries"`
		}
		if err := json.Unmarshal(trimmed, &transcript); err != nil {
			return nil, fmt.Errorf("failed to parse transcript JSON: %w", err)
		}
		lines := make([]string, 0, len(transcript.Entries))
		for _, e := range transcript.Entries {
			lines = append(lines, e.Text)
		}
		return lines, nil
	}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if line := scanner.Text(); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// Replay folds lines the same way a room connection does.
func Replay(lines []string, hint role.Hint) ([]Step, Summary) {
	detector := role.NewPhraseDetector(hint)

	var (
		steps   []Step
		summary Summary
		cur     = Step{Status: protocol.StatusUnknown, Role: detector.Role()}
		seen    = make(map[protocol.Status]bool)
	)

	for i, line := range lines {
		ev := protocol.Parse(line)

		cur.Line = i + 1
		cur.Raw = ev.Raw
		cur.Matched = ev.Matched
		cur.NewRound = ev.Status.StartsRound()

		if ev.Status != "" {
			cur.Status = ev.Status
			if !ev.Status.Known() && !seen[ev.Status] {
				seen[ev.Status] = true
				summary.Unknown = append(summary.Unknown, ev.Status)
			}
		}
		if ev.HasTheme {
			cur.Theme = ev.Theme
		}
		if cur.NewRound {
			summary.Rounds++
			cur.AdminDetected = false
		}
		if ev.AdminDetected {
			cur.AdminDetected = true
		}
		cur.Role = detector.Observe(ev)

		if !ev.Matched {
			summary.Unmatched++
		}
		steps = append(steps, cur)
	}

	summary.Lines = len(lines)
	summary.Final = cur
	return steps, summary
}

func formatStep(s Step) string {
	marker := " "
	switch {
	case !s.Matched:
		marker = "?"
	case s.NewRound:
		marker = "*"
	}

	theme := s.Theme
	if theme == "" {
		theme = "-"
	}
	return fmt.Sprintf("%s %4d  %-40s %-7s theme=%s | %s", marker, s.Line, s.Status, s.Role, theme, s.Raw)
}

func formatSummary(s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nLines: %d (unrecognized: %d)\n", s.Lines, s.Unmatched)
	fmt.Fprintf(&b, "Rounds started: %d\n", s.Rounds)
	fmt.Fprintf(&b, "Final status: %s\n", s.Final.Status)
	fmt.Fprintf(&b, "Final role: %s\n", s.Final.Role)
	if s.Final.Theme != "" {
		fmt.Fprintf(&b, "Final theme: %s\n", s.Final.Theme)
	}
	if len(s.Unknown) > 0 {
		fmt.Fprintf(&b, "⚠️  Unknown statuses: %v\n", s.Unknown)
	}
	return b.String()
}
