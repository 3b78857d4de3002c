package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/d60-Lab/board/internal/service"
)

func newPostCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Create, read, list and delete posts",
	}
	cmd.AddCommand(newPostCreateCommand(opts))
	cmd.AddCommand(newPostGetCommand(opts))
	cmd.AddCommand(newPostDeleteCommand(opts))
	cmd.AddCommand(newPostListCommand(opts))
	return cmd
}

func newPostCreateCommand(opts *RootOptions) *cobra.Command {
	var reply string
	var noReplies bool
	cmd := &cobra.Command{
		Use:   "create <content...>",
		Short: "Publish a post as --as",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			who, err := opts.app.Identity(ctx, opts.As)
			if err != nil {
				return err
			}
			post, err := opts.app.Posts.Create(ctx, who, service.NewPost{
				Content:      strings.Join(args, " "),
				Reply:        reply,
				AllowReplies: !noReplies,
			})
			if err != nil {
				return err
			}
			return opts.printer(cmd).emit(post, func(w io.Writer) { writePost(w, post) })
		},
	}
	cmd.Flags().StringVarP(&reply, "reply", "r", "", "reply links, whitespace separated")
	cmd.Flags().BoolVar(&noReplies, "no-replies", false, "hide replies to this post")
	return cmd
}

func newPostGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <address>",
		Short: "Show a post and its replies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			res, err := opts.app.Posts.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if res.Redirect != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "-> %s\n", res.Redirect)
				if res, err = opts.app.Posts.Get(ctx, res.Redirect); err != nil {
					return err
				}
			}
			return opts.printer(cmd).emit(res.View, func(w io.Writer) { writeView(w, res.View) })
		},
	}
}

func newPostDeleteCommand(opts *RootOptions) *cobra.Command {
	var allBy bool
	cmd := &cobra.Command{
		Use:   "delete <address>",
		Short: "Delete a post with its reply edges (author or operator)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			who, err := opts.app.Identity(ctx, opts.As)
			if err != nil {
				return err
			}
			if allBy {
				// 参数为 uid，删除该作者全部帖子
				if !who.IsOperator {
					return service.ErrForbidden
				}
				n, err := opts.app.Posts.DeleteAllByAuthor(ctx, args[0])
				if err != nil {
					return err
				}
				return opts.printer(cmd).ok(fmt.Sprintf("deleted %d posts", n))
			}
			if err := opts.app.Posts.Delete(ctx, who, args[0]); err != nil {
				return err
			}
			return opts.printer(cmd).ok("deleted " + args[0])
		},
	}
	cmd.Flags().BoolVar(&allBy, "all-by", false, "treat the argument as a uid and delete all of its posts")
	return cmd
}

func newPostListCommand(opts *RootOptions) *cobra.Command {
	var author, cursor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List posts newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var (
				page *service.Page
				err  error
			)
			if author != "" {
				page, err = opts.app.Posts.ListRecent(ctx, author, cursor)
			} else {
				page, err = opts.app.Posts.ListAll(ctx, cursor)
			}
			if err != nil {
				return err
			}
			return opts.printer(cmd).emit(page, func(w io.Writer) { writePage(w, page) })
		},
	}
	cmd.Flags().StringVar(&author, "author", "", "only posts of this uid")
	cmd.Flags().StringVar(&cursor, "cursor", "", "continue after this key")
	return cmd
}

func newReplyCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reply",
		Short: "Manage reply edges",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <replyto!target!source>",
		Short: "Remove one reply edge (target author or operator)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			who, err := opts.app.Identity(ctx, opts.As)
			if err != nil {
				return err
			}
			if err := opts.app.Posts.DeleteReply(ctx, who, args[0]); err != nil {
				return err
			}
			return opts.printer(cmd).ok("deleted " + args[0])
		},
	})
	return cmd
}
