package iam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/iKora128/medical-wiki/internal/auth"
	"github.com/iKora128/medical-wiki/internal/metrics"
	"github.com/iKora128/medical-wiki/internal/provider"
	"github.com/iKora128/medical-wiki/internal/repository"
	"github.com/iKora128/medical-wiki/internal/telemetry"
)

// PromoteResult describes a completed role change.
type PromoteResult struct {
	UID  string
	Role auth.Role

	// ClaimSynced is true when the provider accepted the role claim.
	ClaimSynced bool
	// ClaimErr is the provider failure, if any. Callers may retry the claim
	// write; the role change itself already took effect.
	ClaimErr error
}

// RoleSynchronizer applies role changes to the role store and mirrors them to
// the identity provider's role claim.
//
// The two writes are not atomic. The store write is authoritative for this
// process; the claim write is best-effort and its failure does not fail
// Promote. Concurrent calls for one uid are last-write-wins on both sides.
type RoleSynchronizer struct {
	store   repository.RoleStore
	claims  provider.ClaimWriter
	logger  *slog.Logger
	metrics *metrics.Collector
}

// NewRoleSynchronizer creates a synchronizer. A nil claims writer disables
// the provider side.
func NewRoleSynchronizer(store repository.RoleStore, claims provider.ClaimWriter, logger *slog.Logger, m *metrics.Collector) *RoleSynchronizer {
	if claims == nil {
		claims = provider.NopClaimWriter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RoleSynchronizer{store: store, claims: claims, logger: logger, metrics: m}
}

// Promote sets the role of uid. The name covers demotion too.
func (s *RoleSynchronizer) Promote(ctx context.Context, uid string, role auth.Role) (*PromoteResult, error) {
	// A cancelled promote must not change anything.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if uid == "" {
		return nil, errors.New("promote: uid is required")
	}
	if !role.Valid() {
		return nil, fmt.Errorf("promote: invalid role %q", role)
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerIAM, "iam.Promote",
		attribute.String(telemetry.AttrPrincipalUID, uid),
		attribute.String(telemetry.AttrPrincipalRole, role.String()),
	)
	defer span.End()

	// Step 1: Store of record
	if err := s.store.SetRole(ctx, uid, role); err != nil {
		s.metrics.RecordRoleChange(role.String(), metrics.OutcomeError)
		telemetry.RecordError(span, err)
		if !errors.Is(err, auth.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", auth.ErrStoreUnavailable, err)
		}
		return nil, fmt.Errorf("promote %s: %w", uid, err)
	}
	s.metrics.RecordRoleChange(role.String(), metrics.OutcomeSuccess)

	result := &PromoteResult{UID: uid, Role: role}

	// Step 2: Provider claim, best-effort
	claimErr := s.claims.SetRoleClaim(ctx, uid, role)
	s.metrics.RecordClaimWrite(claimErr)
	if claimErr != nil {
		result.ClaimErr = claimErr
		s.logger.Warn("provider role claim write failed; store updated, retry the claim write",
			"uid", uid,
			"role", role.String(),
			"error", claimErr,
		)
	} else {
		result.ClaimSynced = true
	}

	telemetry.AddEvent(span, "role.changed", attribute.Bool(telemetry.AttrClaimSynced, result.ClaimSynced))
	return result, nil
}
