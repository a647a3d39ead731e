// Package keyword manages reply rules and their spreadsheet import/export.
package keyword

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/replydesk/replydesk/internal/db"
	"github.com/replydesk/replydesk/internal/logging"
)

var log = logging.Named("keyword")

// ErrInvalid marks a rejected rule.
var ErrInvalid = errors.New("invalid keyword rule")

// SheetName is the worksheet used for export.
const SheetName = "keywords"

var sheetHeader = []any{"关键词", "回复", "匹配模式", "平台"}

type Controller struct {
	store *db.Store
}

func NewController(store *db.Store) *Controller {
	return &Controller{store: store}
}

// Rule is the editable part of a keyword rule.
type Rule struct {
	PlatformID string `json:"platform_id"`
	Keyword    string `json:"keyword"`
	Reply      string `json:"reply"`
	Mode       string `json:"mode"`
}

func (r Rule) validate() error {
	if strings.TrimSpace(r.Keyword) == "" {
		return fmt.Errorf("%w: keyword is required", ErrInvalid)
	}
	if strings.TrimSpace(r.Reply) == "" {
		return fmt.Errorf("%w: reply is required", ErrInvalid)
	}
	if r.Mode != "" && r.Mode != db.MatchExact && r.Mode != db.MatchFuzzy {
		return fmt.Errorf("%w: mode must be %s or %s", ErrInvalid, db.MatchExact, db.MatchFuzzy)
	}
	return nil
}

func (r Rule) row() db.Keyword {
	return db.Keyword{
		PlatformID: strings.TrimSpace(r.PlatformID),
		Keyword:    strings.TrimSpace(r.Keyword),
		Reply:      strings.TrimSpace(r.Reply),
		Mode:       r.Mode,
	}
}

// Query selects a page of rules.
type Query struct {
	PlatformID string
	Search     string
	Page       int
	PageSize   int
}

// Page is one page of rules.
type Page struct {
	Total    int64        `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
	List     []db.Keyword `json:"list"`
}

func (c *Controller) List(ctx context.Context, q Query) (*Page, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > 200 {
		q.PageSize = 20
	}
	list, total, err := c.store.ListKeywords(ctx, db.KeywordFilter{
		PlatformID: q.PlatformID,
		Search:     q.Search,
		Offset:     (q.Page - 1) * q.PageSize,
		Limit:      q.PageSize,
	})
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []db.Keyword{}
	}
	return &Page{Total: total, Page: q.Page, PageSize: q.PageSize, List: list}, nil
}

func (c *Controller) Create(ctx context.Context, r Rule) (*db.Keyword, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	return c.store.CreateKeyword(ctx, r.row())
}

func (c *Controller) Update(ctx context.Context, id int64, r Rule) error {
	if err := r.validate(); err != nil {
		return err
	}
	k := r.row()
	k.ID = id
	return c.store.UpdateKeyword(ctx, k)
}

func (c *Controller) Delete(ctx context.Context, ids []int64) (int64, error) {
	return c.store.DeleteKeywords(ctx, ids)
}

// Export writes the rules of platformID (all rules when empty) as an xlsx workbook.
func (c *Controller) Export(ctx context.Context, platformID string, w io.Writer) error {
	list, _, err := c.store.ListKeywords(ctx, db.KeywordFilter{PlatformID: platformID})
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return err
	}
	if err := f.SetSheetRow(SheetName, "A1", &sheetHeader); err != nil {
		return err
	}
	for i, k := range list {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{k.Keyword, k.Reply, k.Mode, k.PlatformID}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(SheetName, "A", "B", 40); err != nil {
		return err
	}
	_, err = f.WriteTo(w)
	return err
}

// ImportResult counts the outcome of an import.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Import reads rules from the first worksheet of an xlsx workbook. The first
// row is a header. Rows without a platform column take platformID. Invalid
// rows are skipped; valid ones are stored in one transaction.
func (c *Controller) Import(ctx context.Context, r io.Reader, platformID string) (ImportResult, error) {
	var res ImportResult
	f, err := excelize.OpenReader(r)
	if err != nil {
		return res, fmt.Errorf("%w: unreadable workbook: %v", ErrInvalid, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return res, fmt.Errorf("%w: workbook has no sheets", ErrInvalid)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return res, err
	}

	var rules []db.Keyword
	for i, cols := range rows {
		if i == 0 {
			continue
		}
		rule := Rule{PlatformID: platformID}
		for j, v := range cols {
			switch j {
			case 0:
				rule.Keyword = v
			case 1:
				rule.Reply = v
			case 2:
				rule.Mode = strings.ToLower(strings.TrimSpace(v))
			case 3:
				if strings.TrimSpace(v) != "" {
					rule.PlatformID = v
				}
			}
		}
		if err := rule.validate(); err != nil {
			res.Skipped++
			continue
		}
		rules = append(rules, rule.row())
	}

	err = c.store.ExecTx(ctx, func(q *db.Queries) error {
		for _, k := range rules {
			if _, err := q.CreateKeyword(ctx, k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	res.Imported = len(rules)
	log.Infof("imported %d rules, skipped %d", res.Imported, res.Skipped)
	return res, nil
}

func (c *Controller) TransferKeywords(ctx context.Context) ([]db.TransferKeyword, error) {
	return c.store.ListTransferKeywords(ctx)
}

func (c *Controller) ReplaceKeywords(ctx context.Context) ([]db.ReplaceKeyword, error) {
	return c.store.ListReplaceKeywords(ctx)
}
