package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/go-pkgz/testutils/containers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSqlite(t *testing.T) {
	db, err := NewSqlite(":memory:")
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, Sqlite, db.Type())
	_, ok := db.MakeLock().(*sync.RWMutex)
	assert.True(t, ok, "sqlite gets a real lock")

	var one int
	require.NoError(t, db.Get(&one, "SELECT 1"))
	assert.Equal(t, 1, one)
}

func TestSQL_Adopt(t *testing.T) {
	sq := &SQL{dbType: Sqlite}
	assert.Equal(t, "SELECT * FROM t WHERE id = ?", sq.Adopt("SELECT * FROM t WHERE id = ?"))

	pg := &SQL{dbType: Postgres}
	assert.Equal(t, "SELECT * FROM t WHERE id = $1 AND x = $2", pg.Adopt("SELECT * FROM t WHERE id = ? AND x = ?"))
	assert.Equal(t, noopLocker{}, pg.MakeLock())
}

func TestQuery_Pick(t *testing.T) {
	q := Query{Sqlite: "sqlite variant", Postgres: "pg variant"}
	s, err := q.Pick(Sqlite)
	require.NoError(t, err)
	assert.Equal(t, "sqlite variant", s)

	p, err := q.Pick(Postgres)
	require.NoError(t, err)
	assert.Equal(t, "pg variant", p)

	_, err = q.Pick(Unknown)
	assert.ErrorContains(t, err, "unsupported database type")

	same := SameQuery("one for all")
	s, err = same.Pick(Postgres)
	require.NoError(t, err)
	assert.Equal(t, "one for all", s)
}

func TestInitTable(t *testing.T) {
	db, err := NewSqlite(":memory:")
	require.NoError(t, err)
	defer db.Close()

	schema := SameQuery("CREATE TABLE IF NOT EXISTS things (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, InitTable(context.Background(), db, schema))
	require.NoError(t, InitTable(context.Background(), db, schema), "idempotent")

	_, err = db.Exec("INSERT INTO things (name) VALUES ('x')")
	require.NoError(t, err)

	t.Run("nil db", func(t *testing.T) {
		assert.ErrorContains(t, InitTable(context.Background(), nil, schema), "db connection is nil")
	})

	t.Run("bad schema", func(t *testing.T) {
		assert.Error(t, InitTable(context.Background(), db, SameQuery("NOT A STATEMENT")))
	})
}

func TestNewPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skip postgres container test in short mode")
	}
	ctx := context.Background()
	pg := containers.NewPostgresTestContainer(ctx, t)
	defer pg.Close(ctx)

	db, err := NewPostgres(ctx, pg.ConnectionString())
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, Postgres, db.Type())

	schema := Query{
		Sqlite:   "CREATE TABLE IF NOT EXISTS things (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT)",
		Postgres: "CREATE TABLE IF NOT EXISTS things (id SERIAL PRIMARY KEY, name TEXT)",
	}
	require.NoError(t, InitTable(ctx, db, schema))

	_, err = db.Exec(db.Adopt("INSERT INTO things (name) VALUES (?)"), "x")
	require.NoError(t, err)

	var count int
	require.NoError(t, db.Get(&count, "SELECT COUNT(*) FROM things"))
	assert.Equal(t, 1, count)
}
