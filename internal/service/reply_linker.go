package service

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/samber/lo"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/d60-Lab/board/internal/keys"
	"github.com/d60-Lab/board/internal/metrics"
	"github.com/d60-Lab/board/internal/model"
	"github.com/d60-Lab/board/internal/repository"
	"github.com/d60-Lab/board/pkg/logger"
)

// internalLink matches a "view a post" URL by global or author-scoped address.
var internalLink = regexp.MustCompile(`https?://[^/\s]+/post/(post![0-9]+-[0-9a-f]+|user![0-9a-f-]{36}![0-9]+-[0-9a-f]+)`)

// ExtractReferences returns the ids of posts linked from body on host, in
// order of first appearance. Links to any other host are ignored.
func ExtractReferences(body, host string) []string {
	if host == "" {
		return nil
	}
	var ids []string
	for _, word := range strings.Fields(body) {
		m := internalLink.FindStringSubmatch(word)
		if m == nil {
			continue
		}
		u, err := url.Parse(m[0])
		if err != nil || !strings.EqualFold(u.Host, host) {
			continue
		}
		k, err := keys.Parse(m[1])
		if err != nil {
			continue
		}
		ids = append(ids, k.Last())
	}
	if len(ids) == 0 {
		return nil
	}
	return lo.Uniq(ids)
}

// ReplyLinker validates reply targets and records reply edges.
type ReplyLinker struct {
	posts repository.PostRepository
}

func NewReplyLinker(posts repository.PostRepository) *ReplyLinker {
	return &ReplyLinker{posts: posts}
}

// Resolve keeps the targets that exist and accept replies. Targets are
// looked up concurrently; a failed lookup drops that target only and is
// reported, the remaining targets are still linked.
func (l *ReplyLinker) Resolve(ctx context.Context, targets []string) []string {
	if len(targets) == 0 {
		return []string{}
	}
	ok := make([]bool, len(targets))
	var wg conc.WaitGroup
	for i, target := range targets {
		wg.Go(func() {
			post, err := l.posts.Get(ctx, target)
			switch {
			case isNotFound(err):
				metrics.ReplyLinks.WithLabelValues("missing").Inc()
			case err != nil:
				logger.Report("reply target lookup failed", err, zap.String("target", target))
				metrics.ReplyLinks.WithLabelValues("error").Inc()
			case !post.AllowsReplies:
				metrics.ReplyLinks.WithLabelValues("closed").Inc()
			default:
				ok[i] = true
			}
		})
	}
	wg.Wait()

	return lo.Filter(targets, func(_ string, i int) bool { return ok[i] })
}

// Link writes one reply edge per entry of post.ReplyTargets, concurrently,
// and returns once every write has been attempted.
func (l *ReplyLinker) Link(ctx context.Context, post *model.Post) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	var wg conc.WaitGroup
	for _, target := range post.ReplyTargets {
		edge := &model.ReplyEdge{
			TargetID:   target,
			SourceID:   post.ID,
			AuthorID:   post.AuthorID,
			AuthorName: post.AuthorName,
			CreatedAt:  post.CreatedAt,
		}
		wg.Go(func() {
			if err := l.posts.PutReply(ctx, edge); err != nil {
				logger.Error("reply link failed", zap.String("source", edge.SourceID), zap.String("target", edge.TargetID), zap.Error(err))
				metrics.ReplyLinks.WithLabelValues("error").Inc()
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return
			}
			metrics.ReplyLinks.WithLabelValues("linked").Inc()
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}
