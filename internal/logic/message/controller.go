// Package message logs conversations, extracts contact details and builds
// fallback replies.
package message

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/replydesk/replydesk/internal/db"
	"github.com/replydesk/replydesk/internal/domain"
	"github.com/replydesk/replydesk/internal/logging"
)

var log = logging.Named("message")

// Extracted info kinds.
const (
	KindPhone   = "phone"
	KindProduct = "product"
)

var (
	digitRun     = regexp.MustCompile(`\d+`)
	mobileNumber = regexp.MustCompile(`^1[3-9]\d{9}$`)
)

// phones returns mainland mobile numbers that stand alone as a digit run.
func phones(s string) []string {
	var out []string
	for _, run := range digitRun.FindAllString(s, -1) {
		if mobileNumber.MatchString(run) {
			out = append(out, run)
		}
	}
	return out
}

type Controller struct {
	store *db.Store
}

func NewController(store *db.Store) *Controller {
	return &Controller{store: store}
}

// DefaultReply is the reply used when the reply pipeline fails: the configured
// default text, or NO_REPLY when none is set.
func (c *Controller) DefaultReply(cfg *db.Config) domain.ReplyDTO {
	if cfg == nil || strings.TrimSpace(cfg.DefaultReply) == "" {
		return domain.NoReply()
	}
	return domain.ReplyDTO{Type: domain.ReplyText, Content: cfg.DefaultReply}
}

// SaveMessages logs the inbound batch and the reply to the conversation's
// session in one transaction. NO_REPLY outcomes are not logged.
func (c *Controller) SaveMessages(ctx context.Context, conv domain.ConvContext, reply domain.ReplyDTO, batch []domain.InboundMessage) error {
	if reply.Type == domain.ReplyNone {
		return nil
	}
	return c.store.ExecTx(ctx, func(q *db.Queries) error {
		session, err := q.UpsertSession(ctx,
			conv.Get(domain.CtxPlatformID), conv.Get(domain.CtxInstanceID), conv.Get(domain.CtxUsername))
		if err != nil {
			return err
		}
		for _, m := range batch {
			msg := db.Message{
				SessionID: session.ID,
				Sender:    m.Sender,
				Role:      m.Role,
				MsgType:   m.Type,
				Content:   m.Content,
			}
			if m.Timestamp > 0 {
				msg.CreatedAt = time.UnixMilli(m.Timestamp)
			}
			if _, err := q.InsertMessage(ctx, msg); err != nil {
				return err
			}
		}
		_, err = q.InsertMessage(ctx, db.Message{
			SessionID: session.ID,
			Role:      domain.RoleSelf,
			MsgType:   domain.MsgTypeText,
			Content:   reply.Content,
			ReplyType: string(reply.Type),
		})
		return err
	})
}

// ListQuery filters the grouped message log.
type ListQuery struct {
	PlatformID string
	Keyword    string
	StartTime  time.Time
	EndTime    time.Time
	Page       int
	PageSize   int
}

// SessionGroup is one customer's conversation.
type SessionGroup struct {
	Username   string       `json:"username"`
	PlatformID string       `json:"platform_id"`
	InstanceID string       `json:"instance_id"`
	Messages   []db.Message `json:"messages"`
}

// MessagePage is a page of session groups.
type MessagePage struct {
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Sessions []SessionGroup `json:"sessions"`
}

// ListMessagesWithSessions returns messages grouped by session, most recent
// session first.
func (c *Controller) ListMessagesWithSessions(ctx context.Context, q ListQuery) (*MessagePage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > 100 {
		q.PageSize = 20
	}
	rows, total, err := c.store.ListSessionMessages(ctx, db.MessageFilter{
		PlatformID: q.PlatformID,
		Keyword:    q.Keyword,
		StartTime:  q.StartTime,
		EndTime:    q.EndTime,
		Offset:     (q.Page - 1) * q.PageSize,
		Limit:      q.PageSize,
	})
	if err != nil {
		return nil, err
	}

	page := &MessagePage{Total: total, Page: q.Page, PageSize: q.PageSize, Sessions: []SessionGroup{}}
	index := make(map[int64]int)
	for _, m := range rows {
		i, ok := index[m.SessionID]
		if !ok {
			i = len(page.Sessions)
			index[m.SessionID] = i
			page.Sessions = append(page.Sessions, SessionGroup{
				Username:   m.Username,
				PlatformID: m.PlatformID,
				InstanceID: m.InstanceID,
			})
		}
		page.Sessions[i].Messages = append(page.Sessions[i].Messages, m.Message)
	}
	return page, nil
}

// ExtractMsgInfo records phone numbers from customer text and product
// mentions, each gated by its config flag. It returns how many new values
// were stored.
func (c *Controller) ExtractMsgInfo(ctx context.Context, cfg *db.Config, conv domain.ConvContext, batch []domain.InboundMessage) (int, error) {
	if cfg == nil || (!cfg.ExtractPhone && !cfg.ExtractProduct) {
		return 0, nil
	}
	platformID := conv.Get(domain.CtxPlatformID)
	username := conv.Get(domain.CtxUsername)

	var found []db.ExtractedInfo
	for _, m := range batch {
		if m.Role != domain.RoleCustomer {
			continue
		}
		switch {
		case m.Type == domain.MsgTypeProduct && cfg.ExtractProduct:
			if v := strings.TrimSpace(m.Content); v != "" {
				found = append(found, db.ExtractedInfo{Kind: KindProduct, Value: v})
			}
		case cfg.ExtractPhone:
			for _, p := range phones(m.Content) {
				found = append(found, db.ExtractedInfo{Kind: KindPhone, Value: p})
			}
		}
	}

	n := 0
	for _, info := range found {
		info.PlatformID = platformID
		info.Username = username
		created, err := c.store.SaveExtractedInfo(ctx, info)
		if err != nil {
			return n, err
		}
		if created {
			n++
			log.Infof("extracted %s for %s", info.Kind, username)
		}
	}
	return n, nil
}

// ListExtracted returns stored values of kind; an empty kind lists all.
func (c *Controller) ListExtracted(ctx context.Context, kind string) ([]db.ExtractedInfo, error) {
	return c.store.ListExtractedInfo(ctx, kind)
}
