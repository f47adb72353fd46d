package db

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return mock
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	mock := newMockPool(t)

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "outreach_prospects",
		Columns:      []string{"id", "email"},
		ConflictKeys: []string{"email"},
	}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_MissingConfig(t *testing.T) {
	mock := newMockPool(t)
	rows := [][]any{{"id-1", "jane@acme.test"}}

	_, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "outreach_prospects",
		ConflictKeys: []string{"email"},
	}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns")

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:   "outreach_prospects",
		Columns: []string{"id", "email"},
	}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys")
}

func TestBulkUpsert_Flow(t *testing.T) {
	mock := newMockPool(t)
	rows := [][]any{
		{"id-1", "jane@acme.test"},
		{"id-2", "joe@globex.test"},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_outreach_prospects"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom([]string{"_tmp_upsert_outreach_prospects"}, []string{"id", "email"}).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "outreach_prospects" .+ ON CONFLICT \("email"\) DO UPDATE SET "id" = EXCLUDED."id"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectRollback()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "outreach_prospects",
		Columns:      []string{"id", "email"},
		ConflictKeys: []string{"email"},
	}, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
