//go:generate go run go.uber.org/mock/mockgen -source=ports.go -destination=mocks/mock_ports.go -package=mocks
package core

import (
	"context"

	"github.com/dkeye/CallRelay/internal/domain"
)

// TokenVerifier checks a capability token's signature and expiry.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (domain.Capability, error)
}

// TokenIssuer signs capability payloads. Only dev tooling and the public
// call initiation endpoint use it.
type TokenIssuer interface {
	Issue(c domain.Capability) (string, error)
}

// CallStore is the read/claim side of the durable call record.
type CallStore interface {
	// CreateCall inserts a record with no owners.
	CreateCall(ctx context.Context, key domain.RoomKey, domainID string) error
	// Owner returns the identity bound to side; ok is false when unbound.
	Owner(ctx context.Context, key domain.RoomKey, side domain.Side) (owner domain.UserID, ok bool, err error)
	// Claim binds user to side unless another identity already holds it.
	// It returns domain.ErrConflictingOwner on a lost race and first=true
	// when this call performed the binding.
	Claim(ctx context.Context, key domain.RoomKey, side domain.Side, user domain.UserID) (first bool, err error)
}

// CallAudit reads back what the hooks persisted.
type CallAudit interface {
	Call(ctx context.Context, key domain.RoomKey) (domain.CallRecord, error)
	Messages(ctx context.Context, key domain.RoomKey) ([]domain.ChatAuditRecord, error)
}

// Hooks is the write-only audit boundary.
type Hooks interface {
	LogCallStart(ctx context.Context, key domain.RoomKey, domainID string, agentID domain.UserID) error
	LogCallEnd(ctx context.Context, key domain.RoomKey) error
	LogMessage(ctx context.Context, key domain.RoomKey, senderID domain.UserID, content string) error
}
