package db

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_Empty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	n, err := CopyFrom(context.Background(), mock, "ip_ranges", []string{"id"}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Rows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom([]string{"ip_ranges"}, []string{"id", "start_num"}).
		WillReturnResult(2)

	n, err := CopyFrom(context.Background(), mock, "ip_ranges", []string{"id", "start_num"}, [][]any{
		{"a", int64(1)},
		{"b", int64(2)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom([]string{"ip_ranges"}, []string{"id"}).
		WillReturnError(errors.New("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "ip_ranges", []string{"id"}, [][]any{{"a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO ip_ranges")
}

func TestPoolInterface(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	var _ Pool = mock
}
