// issuetoken mints an admin API token pair for an operator. The API has no
// credential login; operators receive tokens out of band.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"guest-messaging/internal/auth"
	"guest-messaging/internal/config"
	"guest-messaging/internal/rbac"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		userID, organizationID, role string
		accessTTL                    time.Duration
	)

	flagSet := pflag.NewFlagSet("issuetoken", pflag.ContinueOnError)
	flagSet.StringVar(&userID, "user", "", "user id placed in the token subject")
	flagSet.StringVar(&organizationID, "org", "", "organization the token is scoped to")
	flagSet.StringVar(&role, "role", rbac.RoleOwner, "owner, planner, viewer, support or super_admin")
	flagSet.DurationVar(&accessTTL, "ttl", 12*time.Hour, "access token lifetime")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if userID == "" || organizationID == "" {
		return errors.New("--user and --org are required")
	}
	switch role {
	case rbac.RoleOwner, rbac.RolePlanner, rbac.RoleViewer, rbac.RoleSupport, rbac.RoleSuperAdmin:
	default:
		return fmt.Errorf("unknown role %q", role)
	}

	m, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       os.Getenv("JWT_SECRET"),
		JWTIssuer:       os.Getenv("JWT_ISSUER"),
		JWTAudience:     os.Getenv("JWT_AUDIENCE"),
		AccessTokenTTL:  accessTTL,
		RefreshTokenTTL: 2 * accessTTL,
	})
	if err != nil {
		return err
	}

	pair, err := m.IssuePair(time.Now(), userID, organizationID, role)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(pair)
}
