// Package safety gates the destructive portal operations, restore and
// rollback, behind an explicit confirmation.
package safety

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Options carries the global safety flags shared by every command.
type Options struct {
	// DryRun reports what would happen without touching the dataset.
	DryRun bool
	// Yes skips the prompt, for scripted use.
	Yes bool
}

// Confirm asks before a destructive operation proceeds. Dry-run always
// declines and --yes always accepts; otherwise one line is read from in,
// and anything but an explicit yes declines.
func Confirm(opts Options, in io.Reader, out io.Writer, question string) (bool, error) {
	if opts.DryRun {
		return false, nil
	}
	if opts.Yes {
		return true, nil
	}
	if out != nil {
		fmt.Fprintf(out, "%s [y/N]: ", strings.TrimSpace(question))
	}
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return false, scanner.Err()
	}
	switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
