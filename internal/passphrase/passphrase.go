// Package passphrase prompts for a key-store passphrase on a real
// terminal without echoing it, falling back to a plain line read when
// stdin isn't a tty (e.g. piped input in scripts/tests), the same
// fallback shape as the teacher's cmd/seal readPassphrase helper.
package passphrase

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompt writes prompt to stderr and reads a passphrase from stdin.
func Prompt(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("passphrase: read from terminal: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("passphrase: read from stdin: %w", err)
	}
	return strings.TrimSpace(line), nil
}
