package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/jordanlanch/outreach/pkg/auth"
)

func main() {
	operator := flag.String("operator", "", "Operator name embedded in the token (required)")
	hours := flag.Int("expires", 24, "Token lifetime in hours")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "Signing secret (defaults to JWT_SECRET)")
	flag.Parse()

	if *operator == "" {
		flag.Usage()
		os.Exit(2)
	}

	token, err := auth.GenerateJWT(*operator, *secret, *hours)
	if err != nil {
		log.Fatalf("❌ Failed to issue token: %v", err)
	}
	fmt.Println(token)
}
