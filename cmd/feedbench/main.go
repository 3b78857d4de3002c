package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/d60-Lab/board/config"
	"github.com/d60-Lab/board/internal/cli"
	"github.com/d60-Lab/board/internal/model"
	"github.com/d60-Lab/board/internal/service"
	"github.com/d60-Lab/board/internal/sms"
	"github.com/d60-Lab/board/pkg/database"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range vs {
		sum += d
	}
	return sum / time.Duration(len(vs))
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, e := strconv.Atoi(s); e == nil && v > 0 {
			return v
		}
	}
	return def
}

func report(name string, vs []time.Duration) {
	fmt.Printf("%-22s n=%-6d avg=%v p95=%v p99=%v\n", name, len(vs), avg(vs), pct(vs, 0.95), pct(vs, 0.99))
}

func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	st := must(database.OpenStore(ctx, cfg))
	defer st.Close()
	app := cli.NewApp(st.Open, cfg, sms.LogSender{From: cfg.SMS.From})

	// params
	AUTHORS := envInt("AUTHORS", 20)  // accounts writing posts
	POSTS := envInt("POSTS", 2000)    // posts in total
	WORKERS := envInt("WORKERS", 8)   // concurrent writers
	REPLYEVERY := envInt("REPLY", 10) // every n-th post links the previous one
	PAGES := envInt("PAGES", 20)      // pages walked on the global feed

	authors := make([]model.Identity, AUTHORS)
	for i := range authors {
		phone := fmt.Sprintf("+1555%07d", i)
		id := must(app.Accounts.SignIn(ctx, phone))
		authors[i] = *id
	}

	// write POSTS posts with WORKERS writers
	var (
		mu      sync.Mutex
		creates = make([]time.Duration, 0, POSTS)
		ids     = make([]string, 0, POSTS)
		failed  int
	)
	jobs := make(chan int)
	var wg conc.WaitGroup
	for w := 0; w < WORKERS; w++ {
		wg.Go(func() {
			for i := range jobs {
				in := service.NewPost{Content: fmt.Sprintf("bench post %d", i), AllowReplies: true}
				if i%REPLYEVERY == 0 {
					mu.Lock()
					if len(ids) > 0 {
						in.Reply = "https://" + cfg.Board.Host + "/post/post!" + ids[len(ids)-1]
					}
					mu.Unlock()
				}
				start := time.Now()
				p, err := app.Posts.Create(ctx, authors[i%AUTHORS], in)
				d := time.Since(start)
				mu.Lock()
				if err != nil {
					failed++
				} else {
					creates = append(creates, d)
					ids = append(ids, p.ID)
				}
				mu.Unlock()
			}
		})
	}
	for i := 0; i < POSTS; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	// walk the global feed
	var pages []time.Duration
	cursor := ""
	for i := 0; i < PAGES; i++ {
		start := time.Now()
		pg, err := app.Posts.ListAll(ctx, cursor)
		if err != nil {
			panic(err)
		}
		pages = append(pages, time.Since(start))
		if !pg.HasMore {
			break
		}
		cursor = pg.LastKey
	}

	// first page of every author feed
	recent := make([]time.Duration, 0, AUTHORS)
	for _, a := range authors {
		start := time.Now()
		must(app.Posts.ListRecent(ctx, a.UID, ""))
		recent = append(recent, time.Since(start))
	}

	// single post reads with replies
	reads := make([]time.Duration, 0, len(ids))
	for i := 0; i < len(ids); i += REPLYEVERY {
		start := time.Now()
		must(app.Posts.Get(ctx, "post!"+ids[i]))
		reads = append(reads, time.Since(start))
	}

	fmt.Printf("driver=%s AUTHORS=%d POSTS=%d WORKERS=%d REPLY=%d PAGES=%d failed=%d\n",
		cfg.Store.Driver, AUTHORS, POSTS, WORKERS, REPLYEVERY, PAGES, failed)
	report("create (2 copies)", creates)
	report("list all page", pages)
	report("list recent page", recent)
	report("get with replies", reads)
}
