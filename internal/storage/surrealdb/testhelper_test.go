package surrealdb

import (
	"strings"
	"testing"

	"github.com/versofin/verso/internal/common"
	tcommon "github.com/versofin/verso/tests/common"
)

// testManager connects to the shared SurrealDB test container, using a
// unique database per test so tests never see each other's records.
func testManager(t *testing.T) *Manager {
	t.Helper()

	container := tcommon.StartSurrealDB(t)

	config := common.NewDefaultConfig()
	config.Storage.Address = container.Address()
	config.Storage.Namespace = "verso_test"
	config.Storage.Database = sanitizeDBName(t.Name())

	m, err := NewManager(common.NewSilentLogger(), config)
	if err != nil {
		t.Fatalf("create storage manager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func sanitizeDBName(name string) string {
	r := strings.NewReplacer("/", "_", " ", "_", "-", "_", "#", "_")
	return strings.ToLower(r.Replace(name))
}
