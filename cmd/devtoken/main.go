// Command devtoken prints a signed access token for local testing of the
// booking API.  The token is signed with JWT_SECRET (read from .env when
// present) unless -secret is given.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/circlein/amenity-booking/internal/utils"
)

func main() {
	_ = godotenv.Load()

	var (
		secret = flag.String("secret", os.Getenv("JWT_SECRET"), "HMAC signing secret")
		user   = flag.String("user", "", "user id (token subject)")
		role   = flag.String("role", "resident", "resident or admin")
		email  = flag.String("email", "", "e-mail claim")
		name   = flag.String("name", "", "display name claim")
		ttl    = flag.Duration("ttl", time.Hour, "token lifetime")
	)
	flag.Parse()

	if *secret == "" || *user == "" {
		fmt.Fprintln(os.Stderr, "usage: devtoken -user <id> [-role admin] [-secret s]  (JWT_SECRET must be set when -secret is omitted)")
		os.Exit(2)
	}

	tok, err := utils.NewAccessToken(*secret, utils.Claims{UserID: *user, Role: *role, Email: *email, Name: *name}, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sign:", err)
		os.Exit(1)
	}
	fmt.Println(tok.Token)
}
