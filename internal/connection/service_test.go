package connection

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/programmerrush/InsightDB-api/internal/database"
	"github.com/programmerrush/InsightDB-api/internal/database/databasetest"
	"github.com/programmerrush/InsightDB-api/internal/errs"
	"github.com/programmerrush/InsightDB-api/internal/secret"
	"github.com/programmerrush/InsightDB-api/internal/store"
	"github.com/programmerrush/InsightDB-api/internal/store/sqlite"
)

var creds = database.Credentials{
	Dialect:  database.DialectPostgres,
	Host:     "db.internal",
	Database: "sales",
	Username: "analyst",
	Password: "hunter2",
}

func newService(t *testing.T, drv *databasetest.Driver) (*Service, *sqlite.Store) {
	t.Helper()

	c, err := secret.NewCipher(make([]byte, secret.KeySize))
	require.NoError(t, err)
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "store.db"), c, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	gw := database.NewGateway(database.DefaultOptions(), nil, drv)
	return NewService(gw, st, st, nil), st
}

func versionStep() databasetest.Step {
	return databasetest.Step{Match: "version()", Cols: []string{"version"}, Rows: [][]any{{"PostgreSQL 16"}}}
}

func TestService_CreateTestsThenSaves(t *testing.T) {
	drv := databasetest.New(versionStep())
	svc, st := newService(t, drv)
	ctx := context.Background()

	conn, err := svc.Create(ctx, "u1", CreateRequest{Name: "warehouse", Credentials: creds})
	require.NoError(t, err)
	assert.Equal(t, 5432, conn.Port)
	assert.NotNil(t, conn.LastConnectedAt)
	assert.Equal(t, 1, drv.Closes())

	got, err := svc.GetCredentials(ctx, "u1", conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got.Password)

	entries, err := st.ListAudit(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.ActionCreate, entries[0].Action)
	assert.Equal(t, "warehouse", entries[0].Details["name"])
	assert.NotContains(t, entries[0].Details, "password")
}

func TestService_CreateRejectsFailingConnection(t *testing.T) {
	drv := databasetest.New()
	drv.OpenErr = errors.New("password authentication failed")
	svc, st := newService(t, drv)
	ctx := context.Background()

	_, err := svc.Create(ctx, "u1", CreateRequest{Name: "warehouse", Credentials: creds})
	require.Error(t, err)
	assert.True(t, errs.IsConnectionFailed(err))
	assert.Contains(t, err.Error(), "password authentication failed")

	list, err := st.ListConnections(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestService_CreateValidates(t *testing.T) {
	svc, _ := newService(t, databasetest.New(versionStep()))

	_, err := svc.Create(context.Background(), "u1", CreateRequest{Credentials: creds})
	assert.True(t, errs.IsInvalidInput(err))

	bad := creds
	bad.Dialect = "oracle"
	_, err = svc.Create(context.Background(), "u1", CreateRequest{Name: "x", Credentials: bad})
	assert.True(t, errs.IsUnsupported(err))
}

func TestService_DeleteAuditsAndScopesToOwner(t *testing.T) {
	svc, st := newService(t, databasetest.New(versionStep()))
	ctx := context.Background()

	conn, err := svc.Create(ctx, "u1", CreateRequest{Name: "warehouse", Credentials: creds})
	require.NoError(t, err)

	assert.True(t, errs.IsNotFound(svc.Delete(ctx, "u2", conn.ID)))
	require.NoError(t, svc.Delete(ctx, "u1", conn.ID))

	_, err = svc.GetCredentials(ctx, "u1", conn.ID)
	assert.True(t, errs.IsNotFound(err))

	entries, err := st.ListAudit(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, store.ActionDelete, entries[0].Action)
	assert.Equal(t, conn.ID, entries[0].ResourceID)
}

func TestService_CreateRejectsUnregisteredDialect(t *testing.T) {
	drv := databasetest.New(versionStep())
	svc, _ := newService(t, drv)

	mysql := creds
	mysql.Dialect = database.DialectMySQL
	_, err := svc.Create(context.Background(), "u1", CreateRequest{Name: "shop", Credentials: mysql})
	assert.True(t, errs.IsUnsupported(err))
	assert.Zero(t, drv.Opens())
}

func ptr[T any](v T) *T { return &v }

func TestService_UpdateRetestsBeforeSaving(t *testing.T) {
	drv := databasetest.New(versionStep())
	svc, st := newService(t, drv)
	ctx := context.Background()

	conn, err := svc.Create(ctx, "u1", CreateRequest{Name: "warehouse", Credentials: creds})
	require.NoError(t, err)

	drv.OpenErr = errors.New("no route to host")
	_, err = svc.Update(ctx, "u1", conn.ID, UpdateRequest{Host: ptr("replica.internal")})
	assert.True(t, errs.IsConnectionFailed(err))

	got, err := svc.GetCredentials(ctx, "u1", conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "db.internal", got.Host)

	drv.OpenErr = nil
	updated, err := svc.Update(ctx, "u1", conn.ID, UpdateRequest{Host: ptr("replica.internal"), Password: ptr("rotated")})
	require.NoError(t, err)
	assert.Equal(t, "replica.internal", updated.Host)
	assert.Equal(t, "warehouse", updated.Name)

	got, err = svc.GetCredentials(ctx, "u1", conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "replica.internal", got.Host)
	assert.Equal(t, "rotated", got.Password)

	entries, err := st.ListAudit(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, store.ActionUpdate, entries[0].Action)
	assert.Equal(t, []any{"host", "password"}, entries[0].Details["fields"])
	assert.NotContains(t, entries[0].Details, "rotated")
}

func TestService_UpdateRenameSkipsTest(t *testing.T) {
	drv := databasetest.New(versionStep())
	svc, _ := newService(t, drv)
	ctx := context.Background()

	conn, err := svc.Create(ctx, "u1", CreateRequest{Name: "warehouse", Credentials: creds})
	require.NoError(t, err)
	opens := drv.Opens()

	updated, err := svc.Update(ctx, "u1", conn.ID, UpdateRequest{Name: ptr("reporting")})
	require.NoError(t, err)
	assert.Equal(t, "reporting", updated.Name)
	assert.Equal(t, opens, drv.Opens())

	got, err := svc.GetCredentials(ctx, "u1", conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got.Password)
}

func TestService_UpdateValidatesAndScopes(t *testing.T) {
	svc, _ := newService(t, databasetest.New(versionStep()))
	ctx := context.Background()

	conn, err := svc.Create(ctx, "u1", CreateRequest{Name: "warehouse", Credentials: creds})
	require.NoError(t, err)

	_, err = svc.Update(ctx, "u1", conn.ID, UpdateRequest{})
	assert.True(t, errs.IsInvalidInput(err))

	_, err = svc.Update(ctx, "u1", conn.ID, UpdateRequest{Name: ptr("")})
	assert.True(t, errs.IsInvalidInput(err))

	_, err = svc.Update(ctx, "u2", conn.ID, UpdateRequest{Name: ptr("mine now")})
	assert.True(t, errs.IsNotFound(err))
}
