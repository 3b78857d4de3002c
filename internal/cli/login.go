package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/d60-Lab/board/internal/model"
)

func newLoginCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Phone PIN login",
	}

	var ip string
	begin := &cobra.Command{
		Use:   "begin <phone>",
		Short: "Send a login PIN to phone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			phone, err := opts.app.Login.Begin(cmd.Context(), ip, args[0])
			if err != nil {
				return err
			}
			return opts.printer(cmd).emit(map[string]string{"phone": phone}, func(w io.Writer) {
				fmt.Fprintf(w, "pin sent to %s\n", phone)
			})
		},
	}
	begin.Flags().StringVar(&ip, "ip", "127.0.0.1", "remote address the request came from")

	complete := &cobra.Command{
		Use:   "complete <phone> <pin>",
		Short: "Verify the PIN and sign in, registering on first login",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := opts.app.Login.Complete(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return opts.printer(cmd).emit(id, func(w io.Writer) { writeIdentity(w, id) })
		},
	}

	cmd.AddCommand(begin, complete)
	return cmd
}

func writeIdentity(w io.Writer, id *model.Identity) {
	name := id.Name
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Fprintf(w, "signed in as %s %s", id.UID, name)
	if id.IsOperator {
		fmt.Fprint(w, " [operator]")
	}
	fmt.Fprintln(w)
}

func newBanCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ban",
		Short: "Manage the login ban list (operators)",
	}

	var reason string
	add := &cobra.Command{
		Use:   "add <ip>",
		Short: "Ban an IP address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			who, err := opts.app.Identity(ctx, opts.As)
			if err != nil {
				return err
			}
			if err := opts.app.Login.Hammer(ctx, who, args[0], reason); err != nil {
				return err
			}
			return opts.printer(cmd).ok("banned " + args[0])
		},
	}
	add.Flags().StringVar(&reason, "reason", "", "reason recorded with the ban")

	var phoneReason string
	phone := &cobra.Command{
		Use:   "phone <phone>",
		Short: "Ban a phone number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			who, err := opts.app.Identity(ctx, opts.As)
			if err != nil {
				return err
			}
			if err := opts.app.Login.HammerPhone(ctx, who, args[0], phoneReason); err != nil {
				return err
			}
			return opts.printer(cmd).ok("banned phone")
		},
	}
	phone.Flags().StringVar(&phoneReason, "reason", "", "reason recorded with the ban")

	remove := &cobra.Command{
		Use:   "remove <subject>",
		Short: "Lift a ban and reset its attempt counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			who, err := opts.app.Identity(ctx, opts.As)
			if err != nil {
				return err
			}
			if err := opts.app.Login.Unhammer(ctx, who, args[0]); err != nil {
				return err
			}
			return opts.printer(cmd).ok("unbanned " + args[0])
		},
	}

	status := &cobra.Command{
		Use:   "status <subject>",
		Short: "Report whether an IP or phone hash is banned",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			banned, err := opts.app.Login.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.printer(cmd).emit(map[string]bool{"banned": banned}, func(w io.Writer) {
				fmt.Fprintf(w, "%s banned: %t\n", args[0], banned)
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List every ban",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			who, err := opts.app.Identity(ctx, opts.As)
			if err != nil {
				return err
			}
			bans, err := opts.app.Login.Bans(ctx, who)
			if err != nil {
				return err
			}
			return opts.printer(cmd).emit(bans, func(w io.Writer) { writeBans(w, bans) })
		},
	}

	cmd.AddCommand(add, phone, remove, status, list)
	return cmd
}
