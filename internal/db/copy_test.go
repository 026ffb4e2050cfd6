package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "news_items", []string{"id", "title"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"id", "source", "published_at", "tier", "title"}
	mock.ExpectCopyFrom(pgx.Identifier{"news_items"}, cols).WillReturnResult(3)

	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	rows := [][]any{
		{"f-202608300900-001", "rss", now, 1, "Romano: here we go"},
		{"f-202608300900-002", "rss", now, 2, "Spurs submit second bid"},
		{"r-202608300900-003", "reddit", now, 4, "ITK thread"},
	}
	n, err := CopyFrom(context.Background(), mock, "news_items", cols, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"news_items"}, []string{"id", "title"}).WillReturnError(fmt.Errorf("copy failed"))

	rows := [][]any{{"f-202608300900-001", "x"}}
	_, err = CopyFrom(context.Background(), mock, "news_items", []string{"id", "title"}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO news_items")
	assert.NoError(t, mock.ExpectationsWereMet())
}
