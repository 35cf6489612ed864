package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anupzope-go/perfoscope/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s, err := Open(db, true)
	require.NoError(t, err)
	return s
}

func testProfile() domain.ProfileSpec {
	return domain.ProfileSpec{
		Name:       "training-loop",
		Events:     []string{"PAPI_TOT_CYC", "PAPI_TOT_INS"},
		Categories: []string{"forward", "backward"},
	}
}

func TestRegisterProfileCreatesRowsOnFirstCall(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.RegisterProfile(ctx, testProfile())
	require.NoError(t, err)
	assert.NotZero(t, id)

	var eventCount int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM perf_event WHERE profile_id = ?`, id).Scan(&eventCount))
	// two named events plus the synthetic "time" event.
	assert.Equal(t, 3, eventCount)

	var categoryCount int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM perf_category`).Scan(&categoryCount))
	assert.Equal(t, 2, categoryCount)
}

func TestRegisterProfileIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.RegisterProfile(ctx, testProfile())
	require.NoError(t, err)
	id2, err := s.RegisterProfile(ctx, testProfile())
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	var profileCount int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM perf_profile WHERE name = ?`, testProfile().Name).Scan(&profileCount))
	assert.Equal(t, 1, profileCount)

	var categoryCount int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM perf_category`).Scan(&categoryCount))
	assert.Equal(t, 2, categoryCount)
}

func TestRegisterProfileSharesGlobalCategoriesAcrossProfiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RegisterProfile(ctx, testProfile())
	require.NoError(t, err)

	other := domain.ProfileSpec{
		Name:       "other-profile",
		Events:     []string{"PAPI_L1_DCM"},
		Categories: []string{"forward", "backward"},
	}
	_, err = s.RegisterProfile(ctx, other)
	require.NoError(t, err)

	var categoryCount int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM perf_category`).Scan(&categoryCount))
	assert.Equal(t, 2, categoryCount, "categories are global and must not be duplicated per profile")
}

func TestRegisterProfileRejectsInvalidSpec(t *testing.T) {
	s := newTestStore(t)
	_, err := s.RegisterProfile(context.Background(), domain.ProfileSpec{Name: "bad"})
	assert.ErrorIs(t, err, domain.ErrSchemaInconsistent)
}

func TestRegisterProfileDetectsSchemaInconsistency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	profile := testProfile()
	id, err := s.RegisterProfile(ctx, profile)
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx, `DELETE FROM perf_event WHERE profile_id = ?`, id)
	require.NoError(t, err)

	_, err = s.RegisterProfile(ctx, profile)
	assert.ErrorIs(t, err, domain.ErrSchemaInconsistent)
}

func TestRegisterProfileDetectsPartialEventMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	profile := testProfile()
	id, err := s.RegisterProfile(ctx, profile)
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx, `DELETE FROM perf_event WHERE profile_id = ? AND name = ?`, id, "PAPI_TOT_INS")
	require.NoError(t, err)

	_, err = s.RegisterProfile(ctx, profile)
	assert.ErrorIs(t, err, domain.ErrSchemaInconsistent)
}

func TestRegisterProfileDetectsPartialCategoryMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(context.Background(), `INSERT INTO perf_category (name) VALUES (?)`, "forward")
	require.NoError(t, err)

	_, err = s.RegisterProfile(ctx, testProfile())
	assert.ErrorIs(t, err, domain.ErrSchemaInconsistent)
}

func TestCreateNewRunAssignsSequentialIndicesPerProfileAndSize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	profile := testProfile()

	profileID, err := s.RegisterProfile(ctx, profile)
	require.NoError(t, err)

	run1, err := s.CreateNewRun(ctx, profileID, 1024)
	require.NoError(t, err)
	assert.Equal(t, int64(1), run1.RunIndex)

	run2, err := s.CreateNewRun(ctx, profileID, 1024)
	require.NoError(t, err)
	assert.Equal(t, int64(2), run2.RunIndex)

	// a different size starts its own sequence.
	run3, err := s.CreateNewRun(ctx, profileID, 2048)
	require.NoError(t, err)
	assert.Equal(t, int64(1), run3.RunIndex)
}

func TestCreateNewRunAndInsertValueRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	profile := testProfile()

	profileID, err := s.RegisterProfile(ctx, profile)
	require.NoError(t, err)

	run, err := s.CreateNewRun(ctx, profileID, 1024)
	require.NoError(t, err)
	assert.NotZero(t, run.ID)
	assert.Equal(t, int64(1), run.RunIndex)

	require.NoError(t, s.InsertValue(ctx, run.ID, profileID, 0, 0, "forward", "PAPI_TOT_CYC", domain.CounterValue(42)))
	require.NoError(t, s.InsertValue(ctx, run.ID, profileID, 0, 0, "forward", "time", domain.TimeValue(1.5)))

	var counterVal int64
	require.NoError(t, s.db.QueryRowContext(ctx, `
		SELECT v.value FROM perf_value v
		JOIN perf_event e ON e.id = v.event_id
		WHERE e.name = 'PAPI_TOT_CYC'`).Scan(&counterVal))
	assert.Equal(t, int64(42), counterVal)

	var timeVal float64
	require.NoError(t, s.db.QueryRowContext(ctx, `
		SELECT v.value FROM perf_value v
		JOIN perf_event e ON e.id = v.event_id
		WHERE e.name = 'time'`).Scan(&timeVal))
	assert.InDelta(t, 1.5, timeVal, 1e-9)
}

func TestStoreToFileThenLoadFromFileRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	profileID, err := s.RegisterProfile(ctx, testProfile())
	require.NoError(t, err)

	dbFile := filepath.Join(t.TempDir(), "perf.db")
	require.NoError(t, s.StoreToFile(ctx, dbFile))

	fresh := newTestStore(t)
	require.NoError(t, fresh.LoadFromFile(ctx, dbFile))

	var name string
	require.NoError(t, fresh.db.QueryRowContext(ctx, `SELECT name FROM perf_profile WHERE id = ?`, profileID).Scan(&name))
	assert.Equal(t, testProfile().Name, name)
}
