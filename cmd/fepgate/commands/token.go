package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexuspay/fepgate/pkg/api/auth"
	"github.com/nexuspay/fepgate/pkg/config"
)

var (
	tokenSubject string
	tokenRole    string
	tokenTTL     time.Duration
)

// There is no user store: admin API tokens are minted here, out of band,
// and handed to operators.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an admin API bearer token",
	Long: `Mint a JWT for the admin API, signed with the configured secret
(config api.jwt.secret or the FEPGATE_API_SECRET environment variable).

Roles:
  operator  read-only access to channels, pending stats, and transactions
  admin     operator plus reconnect/close channel actions

Examples:
  fepgate token --subject ops-team --role operator
  fepgate token --subject oncall --role admin --ttl 1h`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "Token subject (who this token identifies)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(auth.RoleOperator), "Token role: admin or operator")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default: config api.jwt.token_duration)")
	_ = tokenCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	role := auth.Role(tokenRole)
	if role != auth.RoleAdmin && role != auth.RoleOperator {
		return fmt.Errorf("invalid role %q: must be admin or operator", tokenRole)
	}

	// Load tolerates a missing file: the secret may come from the
	// environment alone.
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	ttl := tokenTTL
	if ttl == 0 {
		ttl = cfg.API.JWT.TokenDuration
	}
	svc, err := auth.NewJWTService(auth.JWTConfig{
		Secret:        cfg.API.GetJWTSecret(),
		TokenDuration: ttl,
	})
	if err != nil {
		return err
	}

	tok, err := svc.GenerateToken(tokenSubject, role)
	if err != nil {
		return err
	}

	fmt.Println(tok)
	fmt.Fprintf(cmd.ErrOrStderr(), "subject=%s role=%s expires=%s\n",
		tokenSubject, role, time.Now().Add(svc.TokenDuration()).Format(time.RFC3339))
	return nil
}
