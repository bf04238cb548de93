package cli

import (
	"fmt"
	"path"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rescale/duopane/internal/models"
	"github.com/rescale/duopane/internal/remote"
)

// newRemoteCmd creates the 'remote' command group.
func newRemoteCmd(v *viper.Viper) *cobra.Command {
	remoteCmd := &cobra.Command{
		Use:   "remote",
		Short: "Browse and manage entries on a saved connection",
		Long: `Commands operating on the remote pane of a saved connection.

Paths are relative to where the connection opens: the login directory for
FTP servers, the drive or bucket root for cloud accounts.

Commands:
  ls     - List a remote folder
  rm     - Delete a file or (empty, on FTP) folder
  mv     - Rename an entry in place
  cp     - Copy an entry next to itself under a new name
  mkdir  - Create a folder`,
	}

	remoteCmd.AddCommand(newRemoteLsCmd(v))
	remoteCmd.AddCommand(newRemoteRmCmd(v))
	remoteCmd.AddCommand(newRemoteMvCmd(v))
	remoteCmd.AddCommand(newRemoteCpCmd(v))
	remoteCmd.AddCommand(newRemoteMkdirCmd(v))
	return remoteCmd
}

// withRemote opens a session, connects key and hands the engine to fn.
func withRemote(v *viper.Viper, key string, fn func(s *session, eng *remote.Engine) error) error {
	s, err := newRemoteSession(v)
	if err != nil {
		return err
	}
	defer s.Close()

	eng, err := s.openRemote(GetContext(), key)
	if err != nil {
		return err
	}
	return fn(s, eng)
}

func newRemoteLsCmd(v *viper.Viper) *cobra.Command {
	var filter string
	var showIcons bool

	cmd := &cobra.Command{
		Use:   "ls <connection> [path]",
		Short: "List a remote folder",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRemote(v, args[0], func(s *session, eng *remote.Engine) error {
				if len(args) == 2 {
					if err := walkTo(GetContext(), eng, args[1]); err != nil {
						return err
					}
				}
				entries := eng.Entries()
				if filter != "" {
					entries = eng.Filter(filter)
				}

				label := func(string, bool) string { return "" }
				if showIcons {
					names := make([]string, 0, len(entries))
					for _, e := range entries {
						names = append(names, e.Name)
					}
					label = iconLabeler(s.comp.Icons(models.PaneRemote), names)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, eng.DisplayPath())
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				for _, e := range entries {
					modified := ""
					if !e.Modified.IsZero() {
						modified = e.Modified.Format("2006-01-02 15:04")
					}
					size := ""
					if !e.IsDir {
						size = formatSize(e.Size)
					}
					name := displayName(e.Name, e.IsDir)
					if showIcons {
						name = "[" + label(e.Name, e.IsDir) + "] " + name
					}
					fmt.Fprintf(w, "  %s\t%s\t%s\n", name, size, modified)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "Show only names matching a substring or glob")
	cmd.Flags().BoolVar(&showIcons, "icons", false, "Show the icon name of each entry")
	return cmd
}

func newRemoteRmCmd(v *viper.Viper) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "rm <connection> <path>",
		Short: "Delete a remote file or folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRemote(v, args[0], func(s *session, eng *remote.Engine) error {
				ctx := GetContext()
				entry, err := resolve(ctx, eng, args[1])
				if err != nil {
					return err
				}
				if !yes && !confirm(fmt.Sprintf("Delete %s?", path.Join(eng.DisplayPath(), entry.Name))) {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
					return nil
				}
				if err := eng.Delete(ctx, entry); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", entry.Name)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newRemoteMvCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "mv <connection> <path> <new-name>",
		Short: "Rename a remote entry in place",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRemote(v, args[0], func(s *session, eng *remote.Engine) error {
				ctx := GetContext()
				entry, err := resolve(ctx, eng, args[1])
				if err != nil {
					return err
				}
				if err := eng.Rename(ctx, entry, args[2]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %s\n", entry.Name, args[2])
				return nil
			})
		},
	}
}

func newRemoteCpCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "cp <connection> <path> <new-name>",
		Short: "Copy a remote entry next to itself under a new name",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRemote(v, args[0], func(s *session, eng *remote.Engine) error {
				ctx := GetContext()
				entry, err := resolve(ctx, eng, args[1])
				if err != nil {
					return err
				}
				if err := eng.CopyAs(ctx, entry, args[2]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Copied %s to %s\n", entry.Name, args[2])
				return nil
			})
		},
	}
}

func newRemoteMkdirCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <connection> <path>",
		Short: "Create a remote folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRemote(v, args[0], func(s *session, eng *remote.Engine) error {
				ctx := GetContext()
				dir, name := path.Split(strings.TrimRight(args[1], "/"))
				if err := walkTo(ctx, eng, dir); err != nil {
					return err
				}
				if err := eng.MakeDir(ctx, name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path.Join(eng.DisplayPath(), name))
				return nil
			})
		},
	}
}
