package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/d60-Lab/board/internal/keys"
	"github.com/d60-Lab/board/internal/kv"
)

// DefaultPageSize 默认每页条数
const DefaultPageSize = 10

// ErrCursorOutOfRange 游标不在所请求的前缀之下
var ErrCursorOutOfRange = errors.New("cursor outside of prefix")

// Window 一页倒序结果。FirstKey 为本页最新的键，LastKey 为本页最旧的键，
// 也就是下一页的游标。
type Window struct {
	Entries  []kv.Entry
	FirstKey string
	LastKey  string
	HasMore  bool
}

// Paginate 对 prefix 下的键做倒序分页。cursor 为空时从最新开始，否则只返回
// 严格早于 cursor 的键。游标就是键本身，因此游标之上的并发插入不会让页面漂移。
func Paginate(ctx context.Context, store kv.Store, prefix, cursor string, size int) (*Window, error) {
	if size <= 0 {
		size = DefaultPageSize
	}
	if cursor != "" && !strings.HasPrefix(cursor, prefix) {
		return nil, fmt.Errorf("paginate %q: %w", cursor, ErrCursorOutOfRange)
	}

	// 前缀下最旧的键，用来判断是否已到末页
	oldest, err := store.ScanKeys(ctx, keys.Range{Gte: prefix, Lte: prefix + keys.High, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("paginate.oldest: %w", err)
	}
	w := &Window{}
	if len(oldest) == 0 {
		return w, nil
	}

	r := keys.Under(prefix)
	if cursor != "" {
		r.Lte = ""
		r.Lt = cursor
	}
	r.Limit = size
	r.Reverse = true
	entries, err := store.Scan(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("paginate.scan: %w", err)
	}
	if len(entries) == 0 {
		return w, nil
	}

	w.Entries = entries
	w.FirstKey = entries[0].Key
	w.LastKey = entries[len(entries)-1].Key
	w.HasMore = w.LastKey != oldest[0]
	return w, nil
}
