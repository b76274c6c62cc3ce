// Command hashpw prints a bcrypt hash for the password_hash field of an
// accounts seed file. The password is read from the first line of stdin so it
// stays out of shell history and process listings.
//
//	printf '%s\n' "$PASSWORD" | hashpw -cost 12
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/keithlinneman/academy-portal/internal/accounts"
)

func main() {
	cost := flag.Int("cost", bcrypt.DefaultCost, fmt.Sprintf("bcrypt cost (%d..%d)", bcrypt.MinCost, bcrypt.MaxCost))
	flag.Parse()

	if *cost < bcrypt.MinCost || *cost > bcrypt.MaxCost {
		fmt.Fprintf(os.Stderr, "cost must be %d..%d (got %d)\n", bcrypt.MinCost, bcrypt.MaxCost, *cost)
		os.Exit(2)
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(os.Stderr, "read password from stdin:", err)
		os.Exit(1)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		fmt.Fprintln(os.Stderr, "empty password")
		os.Exit(1)
	}

	hash, err := accounts.HashPassword(password, *cost)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
