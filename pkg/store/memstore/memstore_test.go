package memstore

import (
	"testing"

	"github.com/devicelab-dev/webtest-runner/pkg/store"
	"github.com/devicelab-dev/webtest-runner/pkg/store/storetest"
)

func TestMemStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}
