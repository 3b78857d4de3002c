package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"

	"github.com/d60-Lab/board/internal/model"
	"github.com/d60-Lab/board/internal/service"
	"github.com/d60-Lab/board/pkg/apperrors"
)

// Exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // 业务拒绝：不存在、无权限、被封禁等
	ExitCommandError = 2 // 配置或存储错误
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// printer renders command results as text or json.
type printer struct {
	format string
	w      io.Writer
}

func (p printer) json(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// emit writes v as json, or calls text in text mode.
func (p printer) emit(v any, text func(w io.Writer)) error {
	if p.format == "json" {
		return p.json(v)
	}
	text(p.w)
	return nil
}

func (p printer) ok(msg string) error {
	return p.emit(map[string]string{"status": "ok", "message": msg}, func(w io.Writer) {
		fmt.Fprintln(w, msg)
	})
}

func firstLine(s string, n int) string {
	s, _, _ = strings.Cut(s, "\n")
	if len([]rune(s)) > n {
		return string([]rune(s)[:n-1]) + "…"
	}
	return s
}

func writePost(w io.Writer, p *model.Post) {
	fmt.Fprintf(w, "post!%s  %s (%s)  %s\n", p.ID, p.AuthorName, p.AuthorID, p.CreatedAt.Format(time.RFC3339))
	if len(p.ReplyTargets) > 0 {
		fmt.Fprintf(w, "re: %s\n", strings.Join(p.ReplyTargets, ", "))
	}
	fmt.Fprintln(w, p.Content)
}

func writeView(w io.Writer, v *service.PostView) {
	writePost(w, v.Post)
	if len(v.Replies) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%d replies:\n", len(v.Replies))
	for _, r := range v.Replies {
		fmt.Fprintf(w, "  post!%s  %s  %s\n", r.SourceID, r.AuthorName, r.CreatedAt.Format(time.RFC3339))
	}
}

func writePage(w io.Writer, pg *service.Page) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, p := range pg.Items {
		fmt.Fprintf(tw, "post!%s\t%s\t%s\n", p.ID, p.AuthorName, firstLine(p.Content, 60))
	}
	_ = tw.Flush()
	if pg.HasMore {
		fmt.Fprintf(w, "more: --cursor %s\n", pg.LastKey)
	}
}

func writeAccounts(w io.Writer, accs []*model.Account) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UID\tNAME\tSECONDARY")
	for _, a := range accs {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", a.UID, a.Name, len(a.SecondaryPhones))
	}
	_ = tw.Flush()
}

func writeBans(w io.Writer, bans []*model.BanEntry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SUBJECT\tREASON\tAT")
	for _, b := range bans {
		at := "-"
		if !b.At.IsZero() {
			at = b.At.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", b.Subject, b.Reason, at)
	}
	_ = tw.Flush()
}

func writeProfile(w io.Writer, v *service.ProfileView) {
	a := v.Account
	fmt.Fprintf(w, "%s (%s) %s\n", a.Name, a.UID, a.ColorTag)
	if a.Bio != "" {
		fmt.Fprintln(w, a.Bio)
	}
	if a.Websites != "" {
		fmt.Fprintln(w, a.Websites)
	}
	flags := lo.Without([]string{
		lo.Ternary(v.IsOperator, "operator", ""),
		lo.Ternary(v.Banned, "banned", ""),
		lo.Ternary(v.Muted, "muted", ""),
	}, "")
	if len(flags) > 0 {
		fmt.Fprintf(w, "[%s]\n", strings.Join(flags, " "))
	}
	if v.Posts != nil {
		fmt.Fprintln(w)
		writePage(w, v.Posts)
	}
}

// errorBody is the json shape of a failed command.
type errorBody struct {
	Status  string         `json:"status"`
	Code    apperrors.Code `json:"code"`
	Message string         `json:"message"`
}

// ExitCode maps err onto the process exit status.
func ExitCode(err error) int {
	switch apperrors.CodeOf(err) {
	case "":
		return ExitSuccess
	case apperrors.CodeUnknown, apperrors.CodeStorageFailure:
		return ExitCommandError
	default:
		return ExitFailure
	}
}

// reportError 打印失败原因；存储错误不暴露内部细节
func reportError(w io.Writer, format string, err error) {
	code := apperrors.CodeOf(err)
	msg := apperrors.Reason(err)
	if code == apperrors.CodeUnknown {
		msg = err.Error()
	}
	if format == "json" {
		_ = printer{format: format, w: w}.json(errorBody{Status: "error", Code: code, Message: msg})
		return
	}
	fmt.Fprintf(w, "error: %s (%s)\n", msg, code)
}
