package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warp/fulfillment-engine/generic"
	"github.com/warp/fulfillment-engine/generic/store/storetest"
)

// The suite needs a disposable database; every subtest truncates it.
const dsnEnv = "FULFILLMENT_TEST_POSTGRES_DSN"

func TestStore(t *testing.T) {
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}

	storetest.Run(t, func(t *testing.T) generic.TxStore {
		ctx := context.Background()
		s, err := New(ctx, dsn)
		require.NoError(t, err)
		require.NoError(t, s.Reset(ctx))
		t.Cleanup(func() { s.Close() })
		return s
	})
}
