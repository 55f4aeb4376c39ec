// Package domain contains entity without logic, just meta-data
package domain

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	MaxUserIDLen      = 128
	MaxDisplayNameLen = 64
)

type UserID string

type Role string

const (
	RoleAgent      Role = "agent"
	RoleVisitor    Role = "visitor"
	RoleSupervisor Role = "supervisor"
	RoleSuperAdmin Role = "superadmin"
)

// Mode is how a connection takes part in a call.
type Mode string

const (
	ModeParticipant Mode = "participant"
	ModeObserver    Mode = "observer"
)

// ParseMode accepts the canonical names and the legacy "talk"/"monitor" aliases.
// An empty value means participant.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "participant", "talk":
		return ModeParticipant, nil
	case "observer", "monitor":
		return ModeObserver, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// Capability is the verified claim set a connection presents.
type Capability struct {
	UserID         UserID   `json:"userId" validate:"required,max=128"`
	Role           Role     `json:"role" validate:"required,oneof=agent visitor supervisor superadmin"`
	AllowedDomains []string `json:"allowed_domains" validate:"dive,required"`
	// Rooms binds the capability to individual calls. Visitor capabilities
	// are only valid for the rooms listed here.
	Rooms []RoomKey `json:"rooms,omitempty" validate:"dive,required"`
}

var validate = validator.New()

// Validate checks the claim shape, not the authorization.
func (c Capability) Validate() error {
	return validate.Struct(c)
}
