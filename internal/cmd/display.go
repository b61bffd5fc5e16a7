package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fclairamb/annexmig/internal/migrate"
	"github.com/fclairamb/annexmig/internal/reclaim"
)

// displayMigrateResult displays the outcome of a migration.
//
//nolint:forbidigo // CLI user output function
func displayMigrateResult(result *migrate.Result) {
	fmt.Printf("Migrated %d root(s)\n", result.Roots)
	fmt.Printf("  Annexed objects: %d (%d hard-linked, %d copied)\n",
		result.Managed, result.Hardlinked, result.Copied)
	fmt.Printf("  Plain files:     %d\n", result.Plain)
	if result.Symlinks > 0 {
		fmt.Printf("  Symlinks:        %d\n", result.Symlinks)
	}
	fmt.Printf("  Directories:     %d\n", result.Dirs)

	if len(result.Commits) > 0 {
		fmt.Println("\nCommits:")
		for _, hash := range result.Commits {
			fmt.Printf("  - %s\n", hash)
		}
	}
}

// displayReclaimResult displays the outcome of a reclamation.
//
//nolint:forbidigo // CLI user output function
func displayReclaimResult(result *reclaim.Result) {
	if len(result.Candidates) == 0 {
		fmt.Println("No unused objects to consider.")
		return
	}

	kept := 0
	for _, c := range result.Candidates {
		if c.Migrated && !c.Purgeable {
			kept++
		}
	}

	verb := "Dropped"
	if result.DryRun {
		verb = "Would drop"
	}
	fmt.Printf("%s %d of %d unused object(s)\n", verb, len(result.Purged), len(result.Candidates))
	if len(result.Purged) > 0 {
		fmt.Printf("  Numbers: %s\n", joinNumbers(result.Purged))
	}
	if kept > 0 {
		fmt.Printf("  Kept %d migrated object(s) holding their only link\n", kept)
	}
}

// displayNoUnused displays the empty review message.
//
//nolint:forbidigo // CLI user output function
func displayNoUnused() {
	fmt.Println("No unused objects.")
}

// displayDropped displays the numbers dropped after an interactive review.
//
//nolint:forbidigo // CLI user output function
func displayDropped(numbers []int) {
	fmt.Printf("Dropped unused object(s): %s\n", joinNumbers(numbers))
}

func joinNumbers(numbers []int) string {
	parts := make([]string, len(numbers))
	for i, n := range numbers {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, " ")
}
