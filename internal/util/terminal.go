package util

import "golang.org/x/term"

// IsTerminal reports whether fd is attached to a terminal. Progress bars
// are drawn only then; redirected output gets log lines.
func IsTerminal(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}
