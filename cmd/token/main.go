// Command token signs an access token for an existing user, for operators and
// local testing while OTP login is handled elsewhere.
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/resqzone/server/internal/config"
	"github.com/resqzone/server/internal/logger"
	mw "github.com/resqzone/server/pkg/middleware"
)

func main() {
	userID := flag.Int64("user", 0, "user id to sign for")
	role := flag.String("role", mw.RoleResident, "role claim: resident, volunteer or officer")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}
	cfg := config.Load()
	log := logger.New(cfg)
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}

	switch *role {
	case mw.RoleResident, mw.RoleVolunteer, mw.RoleOfficer:
	default:
		log.WithField("role", *role).Fatal("Unknown role")
	}
	if *userID <= 0 {
		log.Fatal("-user must be a positive id")
	}

	token, err := mw.NewAuthenticator(cfg.JWTSecret).Issue(*userID, *role, *ttl)
	if err != nil {
		log.WithError(err).Fatal("Failed to sign token")
	}
	fmt.Println(token)
}
