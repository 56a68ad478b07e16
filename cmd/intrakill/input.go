package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// readPassword reads from the terminal without echo
var readPassword = term.ReadPassword

// password the vault password, from the environment or prompted for
func (a *app) password(prompt string) (string, error) {
	if password, ok := os.LookupEnv(PasswordEnv); ok {
		return password, nil
	}

	fmt.Fprint(a.out, prompt)
	defer fmt.Fprintln(a.out)

	if stdin, ok := a.in.(*os.File); ok && term.IsTerminal(int(stdin.Fd())) {
		raw, err := readPassword(int(stdin.Fd()))
		if err != nil {
			return "", fmt.Errorf("failed to read password [%w]", err)
		}
		return string(raw), nil
	}

	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password [%w]", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
