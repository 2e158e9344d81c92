package identity

import (
	"testing"

	"github.com/waxworks/discograph/pkg/graph"
	"github.com/waxworks/discograph/pkg/graph/memstore"
)

type (
	graphTx = graph.Tx
	props   = graph.Props
)

func newMemGraph(t *testing.T) *memstore.Store {
	t.Helper()
	return memstore.New()
}
