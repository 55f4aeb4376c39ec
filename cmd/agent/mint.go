package main

import (
	"fmt"

	"github.com/dkeye/CallRelay/internal/adapters/auth"
	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func newMintTokenCmd() *cobra.Command {
	v := newEnv()
	cmd := &cobra.Command{
		Use:   "mint-token",
		Short: "Sign a capability token with the server secret (development only)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			issuer, err := auth.NewJWT(v.GetString("jwt-secret"), v.GetDuration("ttl"))
			if err != nil {
				return err
			}
			token, err := issuer.Issue(domain.Capability{
				UserID:         domain.UserID(v.GetString("user")),
				Role:           domain.Role(v.GetString("role")),
				AllowedDomains: v.GetStringSlice("domains"),
				Rooms:          lo.Map(v.GetStringSlice("rooms"), func(k string, _ int) domain.RoomKey { return domain.RoomKey(k) }),
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	f := cmd.Flags()
	f.String("jwt-secret", "", "HS256 secret (CALLRELAY_JWT_SECRET)")
	f.String("user", "", "user id")
	f.String("role", "agent", "agent|visitor|supervisor|superadmin")
	f.StringSlice("domains", nil, "allowed domains")
	f.StringSlice("rooms", nil, "rooms the token is bound to (required for visitors)")
	f.Duration("ttl", auth.DefaultTTL, "token lifetime")
	_ = v.BindPFlags(f)
	return cmd
}
