// Command token-generator prints a signed principal token for local
// testing of the API and the event stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/phrazzld/compliance-tasks/internal/auth"
)

func main() {
	principal := flag.Int64("principal", 1, "principal id to put in the uid claim")
	lifetime := flag.Duration("lifetime", 24*time.Hour, "token lifetime")
	flag.Parse()

	// a missing .env is fine; the secret may come from the environment
	_ = godotenv.Load()

	secret := os.Getenv("COMPLIANCE_AUTH_JWT_SECRET")
	svc, err := auth.NewTokenService(secret)
	if err != nil {
		log.Fatalf("token-generator: COMPLIANCE_AUTH_JWT_SECRET: %v", err)
	}

	token, err := svc.Generate(context.Background(), *principal, *lifetime)
	if err != nil {
		log.Fatalf("token-generator: %v", err)
	}
	fmt.Println(token)
}
