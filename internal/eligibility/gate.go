// Package eligibility checks beneficiary membership against the access-control registry.
package eligibility

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	apperrors "github.com/suspectuso/pay-anchor/internal/errors"
)

// Registry is the read-only view surface of a deployed membership contract.
// Deployed versions differ: older ones key expiration by holder address, newer ones
// by token id, and any accessor may be absent.
type Registry interface {
	HasValidAccess(ctx context.Context, holder string) (bool, error)
	ExpirationByAddress(ctx context.Context, holder string) (*big.Int, error)
	ExpirationByToken(ctx context.Context, tokenID *big.Int) (*big.Int, error)
	HoldingCount(ctx context.Context, holder string) (*big.Int, error)
	TokenOfOwnerByIndex(ctx context.Context, holder string, index *big.Int) (*big.Int, error)
}

// Dialer binds a Registry at an address.
type Dialer interface {
	Registry(address string) (Registry, error)
}

// Result is the reconciled eligibility answer.
type Result struct {
	HasValidAccess bool
	// ExpiresAt is informational only and nil when no accessor produced a value.
	ExpiresAt *time.Time
	// Strategy names the expiration scheme that produced ExpiresAt.
	Strategy string
}

// Gate answers whether a beneficiary holds valid access.
type Gate struct {
	dialer     Dialer
	strategies []ExpiryStrategy
	log        *slog.Logger
}

// NewGate creates a Gate probing the legacy scheme before the token-id scheme.
func NewGate(dialer Dialer, log *slog.Logger) *Gate {
	return &Gate{
		dialer:     dialer,
		strategies: []ExpiryStrategy{LegacyAddressKeyed{}, TokenIDKeyed{}},
		log:        log,
	}
}

// Check reads access for beneficiary on the registry at registryAddress.
// A false or unreadable boolean check yields NoValidAccess; expiration never grants access.
func (g *Gate) Check(ctx context.Context, registryAddress, beneficiary string) (Result, error) {
	reg, err := g.dialer.Registry(registryAddress)
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.KindInternal, "bind registry", err)
	}
	return g.CheckRegistry(ctx, reg, beneficiary)
}

// CheckRegistry is Check against an already bound registry.
func (g *Gate) CheckRegistry(ctx context.Context, reg Registry, beneficiary string) (Result, error) {
	hasAccess, err := reg.HasValidAccess(ctx, beneficiary)
	if err != nil {
		g.log.Warn("read access flag", "beneficiary", beneficiary, "error", err)
		hasAccess = false
	}

	res := Result{HasValidAccess: hasAccess}
	exp, strategy := g.probeExpiration(ctx, reg, beneficiary)
	if exp != nil && exp.Sign() > 0 && exp.IsInt64() {
		t := time.Unix(exp.Int64(), 0).UTC()
		res.ExpiresAt = &t
		res.Strategy = strategy
	}

	g.log.Info("eligibility checked",
		"beneficiary", beneficiary,
		"has_valid_access", hasAccess,
		"expiration", expString(exp),
		"strategy", res.Strategy,
	)

	if !hasAccess {
		return res, apperrors.WithMetadata(apperrors.KindNoValidAccess, "beneficiary has no valid access",
			map[string]string{apperrors.MetaReason: "NO_VALID_ACCESS"})
	}
	return res, nil
}

// probeExpiration asks each strategy in turn and keeps the first nonzero answer.
func (g *Gate) probeExpiration(ctx context.Context, reg Registry, holder string) (*big.Int, string) {
	for _, s := range g.strategies {
		exp, err := s.Expiration(ctx, reg, holder)
		if err != nil {
			g.log.Debug("expiration accessor unavailable", "strategy", s.Name(), "error", err)
			continue
		}
		if exp != nil && exp.Sign() > 0 {
			return exp, s.Name()
		}
	}
	return nil, ""
}

func expString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
