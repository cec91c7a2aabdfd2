package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func observeGlobal(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)
	return logs
}

func TestGormLoggerDuplicateKeyIsDebug(t *testing.T) {
	logs := observeGlobal(t)
	l := NewGormLogger(DefaultGormLoggerConfig())

	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		return `INSERT INTO "webhook_ledger_entries" ("id") VALUES ($1)`, 0
	}, gorm.ErrDuplicatedKey)

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.DebugLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	require.Equal(t, "INSERT", fields["operation"])
	require.Equal(t, "webhook_ledger_entries", fields["table"])
}

func TestGormLoggerRecordNotFoundIsSilent(t *testing.T) {
	logs := observeGlobal(t)
	l := NewGormLogger(DefaultGormLoggerConfig())

	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		return `SELECT * FROM "subscriptions" WHERE org_id = $1`, 0
	}, gormlogger.ErrRecordNotFound)

	require.Empty(t, logs.All())
}

func TestGormLoggerErrorsAreLogged(t *testing.T) {
	logs := observeGlobal(t)
	l := NewGormLogger(DefaultGormLoggerConfig())

	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		return `UPDATE "entitlement_grants" SET revoked_at = $1`, 0
	}, errors.New("connection reset"))

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	require.Equal(t, "entitlement_grants", entries[0].ContextMap()["table"])
}

func TestTableFromSQL(t *testing.T) {
	require.Equal(t, "projects", tableFromSQL("SELECT count(*) FROM projects WHERE org_id = ?"))
	require.Equal(t, "", tableFromSQL("SELECT 1"))
}
