package message

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replydesk/replydesk/internal/db"
	"github.com/replydesk/replydesk/internal/db/migrations"
	"github.com/replydesk/replydesk/internal/domain"
	"github.com/replydesk/replydesk/internal/logging"
)

func newController(t *testing.T) *Controller {
	t.Helper()
	logging.Disable()
	migrations.QuietMode = true
	store, err := db.NewSQLite(filepath.Join(t.TempDir(), "message.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewController(store)
}

func TestDefaultReply(t *testing.T) {
	c := &Controller{}
	assert.Equal(t, domain.NoReply(), c.DefaultReply(nil))
	assert.Equal(t, domain.NoReply(), c.DefaultReply(&db.Config{DefaultReply: "  "}))
	assert.Equal(t, domain.ReplyDTO{Type: domain.ReplyText, Content: "稍等"}, c.DefaultReply(&db.Config{DefaultReply: "稍等"}))
}

func TestPhones(t *testing.T) {
	assert.Equal(t, []string{"13800138000", "15912345678"}, phones("电话13800138000,15912345678"))
	assert.Empty(t, phones("订单号 213800138000999"))
	assert.Empty(t, phones("12345678901"))
}

func TestSaveAndListMessages(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	alice := domain.ConvContext{domain.CtxPlatformID: "pdd", domain.CtxInstanceID: "1", domain.CtxUsername: "alice"}
	bob := domain.ConvContext{domain.CtxPlatformID: "jd", domain.CtxInstanceID: "1", domain.CtxUsername: "bob"}
	batch := []domain.InboundMessage{{Sender: "alice", Content: "你好", Role: domain.RoleCustomer, Type: domain.MsgTypeText}}

	require.NoError(t, c.SaveMessages(ctx, alice, domain.ReplyDTO{Type: domain.ReplyText, Content: "在的亲"}, batch))
	require.NoError(t, c.SaveMessages(ctx, bob, domain.ReplyDTO{Type: domain.ReplyTransfer}, batch))
	require.NoError(t, c.SaveMessages(ctx, alice, domain.NoReply(), batch))

	page, err := c.ListMessagesWithSessions(ctx, ListQuery{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total)
	require.Len(t, page.Sessions, 2)
	for _, s := range page.Sessions {
		require.Len(t, s.Messages, 2, s.Username)
		assert.Equal(t, domain.RoleCustomer, s.Messages[0].Role)
		assert.Equal(t, domain.RoleSelf, s.Messages[1].Role)
	}

	page, err = c.ListMessagesWithSessions(ctx, ListQuery{PlatformID: "pdd"})
	require.NoError(t, err)
	require.Len(t, page.Sessions, 1)
	assert.Equal(t, "alice", page.Sessions[0].Username)
	assert.Equal(t, "TEXT", page.Sessions[0].Messages[1].ReplyType)

	page, err = c.ListMessagesWithSessions(ctx, ListQuery{Page: 2, PageSize: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total)
	assert.Len(t, page.Sessions, 1)
}

func TestExtractMsgInfo(t *testing.T) {
	c := newController(t)
	ctx := context.Background()
	conv := domain.ConvContext{domain.CtxPlatformID: "pdd", domain.CtxUsername: "alice"}
	batch := []domain.InboundMessage{
		{Content: "我的电话13800138000", Role: domain.RoleCustomer, Type: domain.MsgTypeText},
		{Content: "客服电话13900139000", Role: domain.RoleSelf, Type: domain.MsgTypeText},
		{Content: "加厚保温杯", Role: domain.RoleCustomer, Type: domain.MsgTypeProduct},
	}

	n, err := c.ExtractMsgInfo(ctx, &db.Config{}, conv, batch)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = c.ExtractMsgInfo(ctx, &db.Config{ExtractPhone: true}, conv, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = c.ExtractMsgInfo(ctx, &db.Config{ExtractPhone: true, ExtractProduct: true}, conv, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err := c.ListExtracted(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	phonesOnly, err := c.ListExtracted(ctx, KindPhone)
	require.NoError(t, err)
	require.Len(t, phonesOnly, 1)
	assert.Equal(t, "13800138000", phonesOnly[0].Value)
}
