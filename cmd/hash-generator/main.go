// Command hash-generator produces the bcrypt hash of a trigger secret for
// the GLINT_TRIGGER_SECRET_HASH environment variable.
//
// Pass the secret as the only argument, or pipe it on stdin to keep it out
// of shell history:
//
//	echo -n "my-trigger-secret" | hash-generator
//
// The hash is written to stdout so it can be redirected into an env file.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	secret, err := readSecret(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Usage: hash-generator [secret]")
		os.Exit(1)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating hash: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(string(hash))
}

func readSecret(args []string) (string, error) {
	if len(args) > 1 {
		return "", fmt.Errorf("expected at most one argument, got %d", len(args))
	}
	if len(args) == 1 {
		if args[0] == "" {
			return "", fmt.Errorf("secret must not be empty")
		}
		return args[0], nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("no secret on stdin: %w", err)
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return "", fmt.Errorf("secret must not be empty")
	}
	return secret, nil
}
