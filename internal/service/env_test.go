package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/board/config"
	"github.com/d60-Lab/board/internal/kv"
	"github.com/d60-Lab/board/internal/model"
	"github.com/d60-Lab/board/internal/repository"
)

const testHost = "bbs.example.com"

type sentMessage struct {
	Phone string
	Body  string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
	fail error
}

func (r *recordingSender) Send(_ context.Context, phone, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.sent = append(r.sent, sentMessage{Phone: phone, Body: body})
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

// lastPin 最近一条短信中的 PIN
func (r *recordingSender) lastPin() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return ""
	}
	return strings.TrimPrefix(r.sent[len(r.sent)-1].Body, pinMessage)
}

type testEnv struct {
	mr     *miniredis.Miniredis
	client *redis.Client
	open   kv.Opener
	now    time.Time
	sender *recordingSender
	hasher PhoneHasher
	auth   config.AuthConfig

	postRepo repository.PostRepository
	accRepo  repository.AccountRepository
	banRepo  repository.BanRepository

	ids      *IDAllocator
	posts    PostService
	mutes    MuteService
	verify   VerificationService
	accounts AccountService
	login    LoginService
}

func newTestEnv(t testing.TB, mutate ...func(*config.AuthConfig)) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	e := &testEnv{
		mr:     mr,
		client: client,
		open:   kv.RedisOpener(client),
		now:    time.Unix(1700000000, 0),
		sender: &recordingSender{},
		hasher: NewPhoneHasher("test-salt"),
		auth: config.AuthConfig{
			PinTTL:        5 * time.Minute,
			AttemptWindow: 5 * time.Minute,
			MaxAttempts:   3,
			Operators:     []string{"op-uid"},
		},
	}
	for _, m := range mutate {
		m(&e.auth)
	}
	clock := func() time.Time { return e.now }

	e.postRepo = repository.NewPostRepository(e.open(kv.BucketPosts))
	e.accRepo = repository.NewAccountRepository(e.open(kv.BucketProfile))
	e.banRepo = repository.NewBanRepository(e.open(kv.BucketBans))

	e.ids = NewIDAllocator(e.postRepo)
	e.ids.now = clock
	ps := NewPostService(e.postRepo, e.ids, NewReplyLinker(e.postRepo), testHost, repository.DefaultPageSize)
	ps.(*postService).now = clock
	e.posts = ps

	e.mutes = NewMuteService(repository.NewMuteRepository(e.open(kv.BucketMutes)))
	e.verify = NewVerificationService(repository.NewPinRepository(e.open(kv.BucketPins), clock), e.accRepo, e.hasher, e.sender, e.auth.PinTTL, e.auth.DisableSignups)
	e.accounts = NewAccountService(e.accRepo, e.banRepo, e.posts, e.mutes, e.verify, e.hasher, e.auth)
	ls := NewLoginService(repository.NewAttemptRepository(e.open(kv.BucketLogins), clock), e.banRepo, e.verify, e.accounts, e.hasher, e.auth)
	ls.(*loginService).now = clock
	e.login = ls
	return e
}

// advance 同时推进测试时钟与 miniredis 的 TTL
func (e *testEnv) advance(d time.Duration) {
	e.now = e.now.Add(d)
	e.mr.FastForward(d)
}

// signIn 走完整登录流程并返回身份
func (e *testEnv) signIn(t testing.TB, ip, phone string) *model.Identity {
	t.Helper()
	ctx := context.Background()
	normalized, err := e.login.Begin(ctx, ip, phone)
	if err != nil {
		t.Fatalf("begin login: %v", err)
	}
	id, err := e.login.Complete(ctx, normalized, e.sender.lastPin())
	if err != nil {
		t.Fatalf("complete login: %v", err)
	}
	return id
}

// author 注册并设置名字
func (e *testEnv) author(t testing.TB, phone, name string) model.Identity {
	t.Helper()
	id := e.signIn(t, "10.0.0.1", phone)
	acc, err := e.accounts.UpdateProfile(context.Background(), *id, ProfileUpdate{Name: name, RepliesVisible: true})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	id.Name = acc.Name
	return *id
}

func postURL(id string) string {
	return "https://" + testHost + "/post/post!" + id
}
