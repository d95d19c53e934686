// Command admintoken issues an admin token and the bcrypt hash to configure
// as ADMIN_TOKEN_HASH. The token itself is printed once and never stored.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"civicwatch/pkg/platform/secrets"
)

func main() {
	token, err := secrets.Generate()
	if err != nil {
		slog.Error("generate admin token", "error", err)
		os.Exit(1)
	}
	hash, err := secrets.Hash(token)
	if err != nil {
		slog.Error("hash admin token", "error", err)
		os.Exit(1)
	}
	fmt.Printf("X-Admin-Token: %s\nADMIN_TOKEN_HASH=%s\n", token, hash)
}
