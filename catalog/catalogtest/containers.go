// Package catalogtest starts a disposable PostGIS catalog for
// integration tests.
package catalogtest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/catalog"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/utils"
)

const PostgisImage = "postgis/postgis:16-3.4"

// TestDB is a migrated catalog database shared by every test of a run.
type TestDB struct {
	Container testcontainers.Container
	Config    utils.DatabaseConfig
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns the shared catalog database, starting it on first
// use. Tests are skipped in short mode or when no container runtime is
// reachable.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping catalog integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Skipf("catalog test database unavailable: %v", sharedTestDBErr)
	}
	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgisImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "catalog",
			"POSTGRES_USER":     "cropwater",
			"POSTGRES_PASSWORD": "test_password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(90 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	cfg := utils.DatabaseConfig{
		Host:         host,
		Port:         port.Int(),
		User:         "cropwater",
		Password:     "test_password",
		Name:         "catalog",
		SSLMode:      "disable",
		MaxOpenConns: 4,
		MaxIdleConns: 2,
	}

	if err := catalog.Migrate(cfg.DSN(), zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to migrate test catalog: %w", err)
	}

	return &TestDB{Container: container, Config: cfg}, nil
}
