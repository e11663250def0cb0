package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"horse.fit/curate/internal/auth"
)

func runHashToken(args []string) int {
	fs := flag.NewFlagSet("hash-token", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	token := fs.String("token", "", "Operator token to hash")
	generate := fs.Bool("generate", false, "Generate a random token and print it with its hash")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	plain := strings.TrimSpace(*token)
	switch {
	case *generate && plain != "":
		fmt.Fprintln(os.Stderr, "--token and --generate are mutually exclusive")
		return 2
	case *generate:
		generated, err := auth.GenerateToken()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate token: %v\n", err)
			return 1
		}
		plain = generated
	case plain == "":
		fmt.Fprintln(os.Stderr, "--token or --generate is required")
		return 2
	}

	hash, err := auth.HashToken(plain)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to hash token: %v\n", err)
		return 1
	}

	if *generate {
		fmt.Printf("token=%s\n", plain)
	}
	fmt.Printf("API_TOKEN_HASH=%s\n", hash)
	return 0
}
