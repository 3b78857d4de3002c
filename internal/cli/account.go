package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/d60-Lab/board/internal/model"
	"github.com/d60-Lab/board/internal/service"
)

func newAccountCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Inspect and manage accounts",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List every account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			accs, err := opts.app.Accounts.List(cmd.Context())
			if err != nil {
				return err
			}
			return opts.printer(cmd).emit(accs, func(w io.Writer) { writeAccounts(w, accs) })
		},
	}

	get := &cobra.Command{
		Use:   "get <uid>",
		Short: "Show one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := opts.app.Accounts.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.printer(cmd).emit(acc, func(w io.Writer) { writeAccounts(w, []*model.Account{acc}) })
		},
	}

	var cursor string
	profile := &cobra.Command{
		Use:   "profile <uid>",
		Short: "Show a profile page as seen by --as",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			viewer, err := opts.app.Identity(ctx, opts.As)
			if err != nil {
				return err
			}
			view, err := opts.app.Accounts.Profile(ctx, viewer, args[0], cursor)
			if err != nil {
				return err
			}
			return opts.printer(cmd).emit(view, func(w io.Writer) { writeProfile(w, view) })
		},
	}
	profile.Flags().StringVar(&cursor, "cursor", "", "continue the post list after this key")

	del := &cobra.Command{
		Use:   "delete <uid>",
		Short: "Delete an account with all of its posts (operators)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			who, err := opts.app.Identity(ctx, opts.As)
			if err != nil {
				return err
			}
			if err := opts.app.Accounts.DeleteAccount(ctx, who, args[0]); err != nil {
				return err
			}
			return opts.printer(cmd).ok("deleted account " + args[0])
		},
	}

	operators := &cobra.Command{
		Use:   "operators",
		Short: "List configured operators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := opts.app.Accounts.Operators(cmd.Context())
			if err != nil {
				return err
			}
			return opts.printer(cmd).emit(ops, func(w io.Writer) {
				for _, op := range ops {
					fmt.Fprintf(w, "%s\t%s\n", op.UID, op.Name)
				}
			})
		},
	}

	cmd.AddCommand(list, get, profile, del, operators, newAccountUpdateCommand(opts), newSecondaryCommand(opts))
	return cmd
}

func newAccountUpdateCommand(opts *RootOptions) *cobra.Command {
	var in service.ProfileUpdate
	var hideReplies bool
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update the profile of --as",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			who, err := opts.app.Identity(ctx, opts.As)
			if err != nil {
				return err
			}
			in.RepliesVisible = !hideReplies
			acc, err := opts.app.Accounts.UpdateProfile(ctx, who, in)
			if err != nil {
				return err
			}
			return opts.printer(cmd).emit(acc, func(w io.Writer) { writeAccounts(w, []*model.Account{acc}) })
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "display name")
	cmd.Flags().StringVar(&in.Bio, "bio", "", "short bio")
	cmd.Flags().StringVar(&in.Websites, "websites", "", "links shown on the profile")
	cmd.Flags().StringVar(&in.ColorTag, "color", "", "color tag, e.g. #A0B0C0")
	cmd.Flags().BoolVar(&hideReplies, "hide-replies", false, "hide replies on own posts")
	return cmd
}

func newSecondaryCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phone",
		Short: "Link or unlink secondary phones of --as",
	}

	run := func(fn func(cmd *cobra.Command, who model.Identity, args []string) error, done string) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			who, err := opts.app.Identity(cmd.Context(), opts.As)
			if err != nil {
				return err
			}
			if err := fn(cmd, who, args); err != nil {
				return err
			}
			return opts.printer(cmd).ok(done)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <phone>",
		Short: "Send a PIN to the phone to be linked",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, who model.Identity, args []string) error {
			return opts.app.Accounts.RequestSecondaryPhone(cmd.Context(), who, args[0])
		}, "pin sent"),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "confirm <phone> <pin>",
		Short: "Link the phone once its PIN checks out",
		Args:  cobra.ExactArgs(2),
		RunE: run(func(cmd *cobra.Command, who model.Identity, args []string) error {
			return opts.app.Accounts.ConfirmSecondaryPhone(cmd.Context(), who, args[0], strings.TrimSpace(args[1]))
		}, "phone linked"),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <phone>",
		Short: "Unlink a secondary phone",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, who model.Identity, args []string) error {
			return opts.app.Accounts.RemoveSecondaryPhone(cmd.Context(), who, args[0])
		}, "phone unlinked"),
	})
	return cmd
}

func newMuteCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mute",
		Short: "Manage the mute list of --as",
	}

	change := func(use, short, done string, fn func(ctx context.Context, who model.Identity, uid string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				who, err := opts.app.Identity(ctx, opts.As)
				if err != nil {
					return err
				}
				if err := fn(ctx, who, args[0]); err != nil {
					return err
				}
				return opts.printer(cmd).ok(done + " " + args[0])
			},
		}
	}

	cmd.AddCommand(change("add <uid>", "Mute an account", "muted", func(ctx context.Context, who model.Identity, uid string) error {
		return opts.app.Mutes.Mute(ctx, who, uid)
	}))
	cmd.AddCommand(change("remove <uid>", "Unmute an account", "unmuted", func(ctx context.Context, who model.Identity, uid string) error {
		return opts.app.Mutes.Unmute(ctx, who, uid)
	}))
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List muted accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			who, err := opts.app.Identity(ctx, opts.As)
			if err != nil {
				return err
			}
			muted, err := opts.app.Mutes.Muted(ctx, who)
			if err != nil {
				return err
			}
			return opts.printer(cmd).emit(muted, func(w io.Writer) {
				for _, uid := range muted {
					fmt.Fprintln(w, uid)
				}
			})
		},
	})
	return cmd
}
