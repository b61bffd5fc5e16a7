package unused

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const ruleWidth = 72

var (
	heavyRule = strings.Repeat("=", ruleWidth)
	lightRule = strings.Repeat("-", ruleWidth)
)

// ReviewLines renders one entry the way review-unused prints it.
func ReviewLines(entry *Entry) []string {
	lines := []string{
		heavyRule,
		fmt.Sprintf("unused file #%d: %s", entry.Number, entry.Key),
	}

	switch {
	case entry.Bad:
		lines = append(lines, "(corrupted copy preserved by fsck)")
	case entry.Tmp:
		lines = append(lines, "(partially transferred data)")
	}
	lines = append(lines, lightRule)

	switch {
	case len(entry.LogLines) > 0:
		lines = append(lines, entry.LogLines...)
	case entry.Plain():
		lines = append(lines, "(no history found)")
	}

	return append(lines, "")
}

// WriteReport prints every entry in order.
func WriteReport(w io.Writer, entries []Entry) error {
	for i := range entries {
		for _, line := range ReviewLines(&entries[i]) {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}
	return nil
}

// Decision is the answer to a per-entry prompt.
type Decision int

// Possible answers.
const (
	Keep Decision = iota
	Drop
	Quit
)

// Prompt prints each entry and asks whether to drop it. It returns the numbers
// the user accepted, stopping early on "q" or end of input.
func Prompt(in io.Reader, out io.Writer, entries []Entry) ([]int, error) {
	scanner := bufio.NewScanner(in)
	var accepted []int

	for i := range entries {
		for _, line := range ReviewLines(&entries[i]) {
			if _, err := fmt.Fprintln(out, line); err != nil {
				return accepted, err
			}
		}
		if _, err := fmt.Fprintf(out, "Drop unused file #%d? [y/N/q] ", entries[i].Number); err != nil {
			return accepted, err
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return accepted, fmt.Errorf("read answer: %w", err)
			}
			return accepted, nil
		}

		switch parseDecision(scanner.Text()) {
		case Drop:
			accepted = append(accepted, entries[i].Number)
		case Quit:
			return accepted, nil
		case Keep:
		}
	}
	return accepted, nil
}

func parseDecision(answer string) Decision {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return Drop
	case "q", "quit":
		return Quit
	default:
		return Keep
	}
}
