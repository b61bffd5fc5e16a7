package store

import (
	"strings"
)

const commitHeaderPrefix = "commit "

// Commit is one entry of a history search.
type Commit struct {
	Hash    string
	Message string
	// Lines holds the commit exactly as git log printed it, stat lines and the blank
	// separator before the next commit included.
	Lines []string
}

// ParseLog splits `git log --stat` output into commits, keeping each commit's lines verbatim.
func ParseLog(out string) []Commit {
	var (
		commits []Commit
		current *Commit
		message []string
	)

	flush := func() {
		if current == nil {
			return
		}
		current.Message = strings.TrimSpace(strings.Join(message, "\n"))
		commits = append(commits, *current)
		current = nil
		message = nil
	}

	for line := range strings.SplitSeq(strings.TrimRight(out, "\n"), "\n") {
		if strings.HasPrefix(line, commitHeaderPrefix) {
			flush()
			current = &Commit{}
			if fields := strings.Fields(line); len(fields) > 1 {
				current.Hash = fields[1]
			}
		}
		if current == nil {
			continue
		}

		current.Lines = append(current.Lines, line)
		if msg, ok := strings.CutPrefix(line, "    "); ok {
			message = append(message, msg)
		} else if line == "" && len(message) > 0 {
			// Blank lines inside the message are not indented; stat lines end it.
			message = append(message, "")
		}
	}
	flush()

	return commits
}
