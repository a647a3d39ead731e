package keyword

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/replydesk/replydesk/internal/db"
	"github.com/replydesk/replydesk/internal/db/migrations"
	"github.com/replydesk/replydesk/internal/logging"
)

func newController(t *testing.T) *Controller {
	t.Helper()
	logging.Disable()
	migrations.QuietMode = true
	store, err := db.NewSQLite(filepath.Join(t.TempDir(), "keyword.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewController(store)
}

func TestRuleCRUD(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	_, err := c.Create(ctx, Rule{Keyword: " ", Reply: "x"})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = c.Create(ctx, Rule{Keyword: "x", Reply: "y", Mode: "regex"})
	assert.ErrorIs(t, err, ErrInvalid)

	k, err := c.Create(ctx, Rule{PlatformID: "pdd", Keyword: " 包邮 ", Reply: "包邮的亲"})
	require.NoError(t, err)
	assert.Equal(t, "包邮", k.Keyword)
	assert.Equal(t, db.MatchFuzzy, k.Mode)

	require.NoError(t, c.Update(ctx, k.ID, Rule{PlatformID: "pdd", Keyword: "包邮吗", Reply: "包邮", Mode: db.MatchExact}))
	assert.ErrorIs(t, c.Update(ctx, 9999, Rule{Keyword: "a", Reply: "b"}), db.ErrNotFound)

	page, err := c.List(ctx, Query{PlatformID: "pdd"})
	require.NoError(t, err)
	require.EqualValues(t, 1, page.Total)
	assert.Equal(t, db.MatchExact, page.List[0].Mode)

	n, err := c.Delete(ctx, []int64{k.ID, 9999})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	page, err = c.List(ctx, Query{PlatformID: "pdd"})
	require.NoError(t, err)
	assert.Empty(t, page.List)
	assert.NotNil(t, page.List)
}

func TestExportImportRoundTrip(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	_, err := c.Create(ctx, Rule{PlatformID: "pdd", Keyword: "你好|在吗", Reply: "在的[or]您好"})
	require.NoError(t, err)
	_, err = c.Create(ctx, Rule{PlatformID: "pdd", Keyword: "发票", Reply: "可以开", Mode: db.MatchExact})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, c.Export(ctx, "pdd", &buf))

	res, err := c.Import(ctx, bytes.NewReader(buf.Bytes()), "jd")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Zero(t, res.Skipped)

	// The platform column wins over the import default.
	page, err := c.List(ctx, Query{PlatformID: "pdd"})
	require.NoError(t, err)
	assert.EqualValues(t, 4, page.Total)
}

func TestImportSkipsInvalidRows(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"关键词", "回复"},
		{"退货", "七天无理由"},
		{"", "没有关键词"},
		{"只有关键词"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)
	f.Close()

	res, err := c.Import(ctx, &buf, "jd")
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Imported: 1, Skipped: 2}, res)

	page, err := c.List(ctx, Query{PlatformID: "jd"})
	require.NoError(t, err)
	require.Len(t, page.List, 1)
	assert.Equal(t, "退货", page.List[0].Keyword)

	_, err = c.Import(ctx, bytes.NewReader([]byte("not a workbook")), "")
	assert.ErrorIs(t, err, ErrInvalid)
}
