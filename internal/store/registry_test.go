package store_test

import (
	"testing"

	"github.com/MahdiBaghbani/circleinvite/internal/store"
	_ "github.com/MahdiBaghbani/circleinvite/internal/store/dynamodb"
	_ "github.com/MahdiBaghbani/circleinvite/internal/store/gormstore"
	_ "github.com/MahdiBaghbani/circleinvite/internal/store/json"
	_ "github.com/MahdiBaghbani/circleinvite/internal/store/memory"
)

func TestDriverRegistry(t *testing.T) {
	drivers := store.AvailableDrivers()

	expected := map[string]bool{"memory": true, "json": true, "sqlite": true, "postgres": true, "dynamodb": true}
	for _, d := range drivers {
		if !expected[d] {
			t.Logf("unexpected driver registered: %s", d)
		}
		delete(expected, d)
	}

	for d := range expected {
		t.Errorf("expected driver %q not registered", d)
	}
}

func TestUnknownDriver(t *testing.T) {
	if _, err := store.New(&store.DriverConfig{Driver: "etcd"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}
