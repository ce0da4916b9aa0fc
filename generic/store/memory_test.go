package store

import (
	"testing"

	"github.com/warp/fulfillment-engine/generic"
	"github.com/warp/fulfillment-engine/generic/store/storetest"
)

func TestTxMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) generic.TxStore { return NewTxMemory() })
}
