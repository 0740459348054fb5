package core

import (
	"context"

	"github.com/dkeye/Collab/internal/domain"
)

type IdentityVerifier interface {
	Verify(token string) (domain.Identity, error)
}

type MembershipOracle interface {
	IsMember(ctx context.Context, sid domain.SessionID, uid domain.UserID) (bool, error)
}
