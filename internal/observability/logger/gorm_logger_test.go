package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	obscontext "github.com/smallbiznis/agrisubsidy/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestGormLoggerTagsFailedQueries(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	gl := NewGormLogger(zap.New(core), false)

	ctx := obscontext.WithRequestID(context.Background(), "req-9")
	ctx = obscontext.WithActorID(ctx, "501")
	ctx = obscontext.WithProgramID(ctx, "77")

	sql := `UPDATE "current_stocks" SET "reserved_quantity"=? WHERE inventory_id = ?`
	gl.Trace(ctx, time.Now(), func() (string, int64) { return sql, 0 }, errors.New("constraint failed"))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	fields := entry.ContextMap()
	assert.Equal(t, "gorm", fields["component"])
	assert.Equal(t, "req-9", fields["request_id"])
	assert.Equal(t, "501", fields["actor_id"])
	assert.Equal(t, "77", fields["program_id"])
	assert.Equal(t, "UPDATE", fields["operation"])
	assert.Equal(t, "current_stocks", fields["table"])
}

func TestGormLoggerSkipsMissingRowsAndFastQueries(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	gl := NewGormLogger(zap.New(core), false)
	query := func() (string, int64) { return `SELECT * FROM "programs" WHERE id = ?`, 0 }

	gl.Trace(context.Background(), time.Now(), query, gormlogger.ErrRecordNotFound)
	gl.Trace(context.Background(), time.Now(), query, nil)
	assert.Zero(t, logs.Len())

	gl.Trace(context.Background(), time.Now().Add(-time.Second), query, nil)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
	assert.Equal(t, "programs", logs.All()[0].ContextMap()["table"])
	assert.NotContains(t, logs.All()[0].ContextMap(), "program_id")
}

func TestGormLoggerDebugWritesEveryStatement(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	gl := NewGormLogger(zap.New(core), true)

	gl.Trace(context.Background(), time.Now(), func() (string, int64) {
		return `SELECT * FROM "inventory_items" WHERE id = ? FOR UPDATE`, 1
	}, nil)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "SELECT", fields["operation"])
	assert.Equal(t, true, fields["row_lock"])
	assert.Equal(t, int64(1), fields["rows_affected"])

	assert.Equal(t, gormlogger.Silent, NewGormLogger(zap.New(core), true).LogMode(gormlogger.Silent).(*GormLogger).level)
}
