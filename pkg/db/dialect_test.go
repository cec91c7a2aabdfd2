package db

import (
	"testing"

	"github.com/smallbiznis/corates/internal/config"
	"github.com/stretchr/testify/require"
)

func TestDialectSelectsDriver(t *testing.T) {
	cases := map[string]string{
		"postgres": "postgres",
		"":         "postgres",
		"MySQL":    "mysql",
		"sqlite":   "sqlite",
	}
	for dbType, want := range cases {
		dialector, err := Dialect(config.Config{DBType: dbType, DBName: "corates"})
		require.NoError(t, err, dbType)
		require.Equal(t, want, dialector.Name(), dbType)
	}
}

func TestDialectRejectsUnknownType(t *testing.T) {
	_, err := Dialect(config.Config{DBType: "oracle"})
	require.Error(t, err)
}

func TestSQLiteDSN(t *testing.T) {
	require.Equal(t, "file:corates.db?_foreign_keys=on", sqliteDSN("corates"))
	require.Equal(t, "file:billing.db?_foreign_keys=on", sqliteDSN("billing.db"))
	require.Equal(t, "file::memory:?cache=shared&_foreign_keys=on", sqliteDSN(":memory:"))
}
