//go:build integration

package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"claimgate/internal/audit"
	auditpg "claimgate/internal/audit/store/postgres"
	"claimgate/pkg/platform/sentinel"
	"claimgate/pkg/testutil/containers"
)

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()
	pg := containers.NewPostgresContainer(t)
	defer pg.Terminate(ctx)

	store := auditpg.New(pg.DB)

	t.Run("empty chain has no last event", func(t *testing.T) {
		_, err := store.Last(ctx)
		require.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("ledger appends and resumes through the store", func(t *testing.T) {
		ledger, err := audit.NewLedger(ctx, store)
		require.NoError(t, err)

		for _, et := range []audit.EventType{audit.EventClaimReceived, audit.EventRulesEvaluated, audit.EventReportCreated} {
			_, err := ledger.Append(ctx, et, "CLM-100", "system", map[string]string{"stage": string(et)})
			require.NoError(t, err)
		}
		require.NoError(t, ledger.VerifyChain(ctx, 1, 3))

		resumed, err := audit.NewLedger(ctx, store)
		require.NoError(t, err)
		event, err := resumed.Append(ctx, audit.EventHumanOverride, "CLM-100", "reviewer:ops", nil)
		require.NoError(t, err)
		require.Equal(t, uint64(4), event.Sequence)
		require.NoError(t, resumed.VerifyChain(ctx, 1, 4))
	})

	t.Run("duplicate sequence is a conflict", func(t *testing.T) {
		last, err := store.Last(ctx)
		require.NoError(t, err)

		err = store.Append(ctx, *last)
		require.ErrorIs(t, err, sentinel.ErrConflict)
	})

	t.Run("queries by claim", func(t *testing.T) {
		events, err := store.ByClaim(ctx, "CLM-100")
		require.NoError(t, err)
		require.Len(t, events, 4)
		for i := 1; i < len(events); i++ {
			require.Greater(t, events[i].Sequence, events[i-1].Sequence)
		}
	})
}
