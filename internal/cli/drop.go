package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rescale/duopane/internal/models"
	"github.com/rescale/duopane/internal/pathutil"
)

// newDropCmd creates the 'drop' command: the command-line form of dragging
// files onto a pane.
func newDropCmd(v *viper.Viper) *cobra.Command {
	var (
		conn     string
		into     string
		localDir string
	)

	cmd := &cobra.Command{
		Use:   "drop <local|remote> <file>...",
		Short: "Drop files onto a pane",
		Long: `Drop files onto the local or remote pane.

Dropping onto the remote pane with --conn uploads into the remote location
(--into walks there first). Anything else copies into the local pane's
directory (--local-dir, default the current directory).

Examples:
  duopane drop local ~/Downloads/a.zip --local-dir ~/archive
  duopane drop remote report.pdf --conn nas --into incoming`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			pane, ok := models.ParsePane(args[0])
			if !ok {
				return fmt.Errorf("unknown pane %q (want local or remote)", args[0])
			}

			files, err := pathutil.ResolveAll(args[1:])
			if err != nil {
				return err
			}
			dir, err := pathutil.Resolve(localDir)
			if err != nil {
				return err
			}

			var s *session
			if conn != "" {
				s, err = newRemoteSession(v)
			} else {
				s, err = newSession(v, false)
			}
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.comp.OpenLocal(ctx, dir); err != nil {
				return err
			}
			if conn != "" {
				eng, err := s.openRemote(ctx, conn)
				if err != nil {
					return err
				}
				if err := walkTo(ctx, eng, into); err != nil {
					return err
				}
			}

			var batch []models.TransferLogEntry
			s.withProgress(ctx, len(files), func() {
				batch = s.comp.Drop(ctx, pane, files)
			})
			return printBatch(cmd.OutOrStdout(), batch)
		},
	}

	cmd.Flags().StringVar(&conn, "conn", "", "Saved connection for the remote pane")
	cmd.Flags().StringVar(&into, "into", "", "Remote folder to upload into, relative to where the connection opens")
	cmd.Flags().StringVar(&localDir, "local-dir", "", "Local pane directory")
	return cmd
}
