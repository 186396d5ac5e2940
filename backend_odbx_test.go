package odbxuv

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func openNativeSQLite(t *testing.T) Backend {
	t.Helper()
	if !LibraryLoaded() {
		t.Skip("opendbx library not available, set " + LibraryPathEnv)
	}
	dir := t.TempDir() + "/"
	be, err := openODBX(context.Background(), ConnectParams{Backend: "sqlite3", Host: dir, Database: "native.db"})
	require.Nil(t, err)
	t.Cleanup(func() { _ = be.Close() })
	return be
}

func drain(t *testing.T, cur Cursor) []Row {
	t.Helper()
	var rows []Row
	for {
		r, err := cur.Next()
		if errors.Is(err, io.EOF) {
			return rows
		}
		require.Nil(t, err)
		rows = append(rows, r)
	}
}

func TestODBXBackend(t *testing.T) {
	be := openNativeSQLite(t)
	ctx := context.Background()

	for _, stmt := range []string{
		"CREATE TABLE t(a TEXT, b INTEGER)",
		"INSERT INTO t VALUES ('x', 1)",
		"INSERT INTO t VALUES (NULL, 2)",
	} {
		cur, err := be.Query(ctx, stmt, 0)
		require.Nil(t, err, stmt)
		require.Empty(t, drain(t, cur))
		require.Nil(t, cur.Close())
	}

	cur, err := be.Query(ctx, "SELECT a, b FROM t ORDER BY b", 0)
	require.Nil(t, err)
	require.Equal(t, []string{"a", "b"}, cur.Columns())
	require.Equal(t, []Row{{"x", "1"}, {nil, "2"}}, drain(t, cur))
	require.Nil(t, cur.Close())

	escaped, err := be.Escape("it's")
	require.Nil(t, err)
	require.Equal(t, "it''s", escaped)

	_, err = be.Query(ctx, "SELECT * FROM missing", 0)
	var nerr *NativeError
	require.ErrorAs(t, err, &nerr)
	require.Less(t, nerr.Code, 0)
}

func TestODBXLibraryNames(t *testing.T) {
	names := libraryNames()
	require.NotEmpty(t, names)
	for _, n := range names {
		require.Contains(t, n, "opendbx")
	}
}
