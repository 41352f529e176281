package http

import (
	"context"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/app/incident"
	domain "github.com/NeuralTrust/TrustGuard/pkg/domain/incident"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/breaker"
)

//go:generate mockery --name=BlockManager --dir=. --output=./mocks --filename=block_manager_mock.go --case=underscore --with-expecter
type BlockManager interface {
	BlockIP(ctx context.Context, ip, reason string, duration time.Duration, temporary bool) (domain.BlockRecord, error)
	Unblock(ctx context.Context, kind domain.BlockKind, subject string) (bool, error)
	ActiveBlocks() []domain.BlockRecord
}

type ProfileReader interface {
	Profile(ip string) (incident.ActorProfile, bool)
}

type BreakerLister interface {
	Snapshot() []breaker.Snapshot
}

// Pinger is a dependency the health endpoint pings.
type Pinger interface {
	Ping(ctx context.Context) error
}
