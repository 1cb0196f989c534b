package memory_test

import (
	"testing"

	"github.com/orquesta/orquesta/store"
	"github.com/orquesta/orquesta/store/memory"
	"github.com/orquesta/orquesta/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return memory.New() })
}
