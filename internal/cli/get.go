package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rescale/duopane/internal/models"
	"github.com/rescale/duopane/internal/pathutil"
	"github.com/rescale/duopane/internal/remote"
)

// newGetCmd creates the 'get' command: download remote entries.
func newGetCmd(v *viper.Viper) *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "get <connection> <path>...",
		Short: "Download remote files or folders",
		Long: `Download remote files or folders into a local directory.

Without --to the last download directory is used, then the home directory.
The chosen directory is remembered for next time.

Examples:
  duopane get nas reports/q3.pdf
  duopane get drive Photos --to ~/Downloads`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if to != "" {
				abs, err := pathutil.Resolve(to)
				if err != nil {
					return err
				}
				to = abs
			}
			return withRemote(v, args[0], func(s *session, eng *remote.Engine) error {
				ctx := GetContext()
				var entries []models.Entry
				for _, p := range args[1:] {
					if err := eng.Open(ctx); err != nil {
						return err
					}
					entry, err := resolve(ctx, eng, p)
					if err != nil {
						return err
					}
					entries = append(entries, entry)
				}

				var batch []models.TransferLogEntry
				var dlErr error
				s.withProgress(ctx, len(entries), func() {
					batch, dlErr = s.comp.DownloadTo(ctx, entries, to)
				})
				if dlErr != nil {
					GetLogger().Warn().Err(dlErr).Msg("download finished with an error")
				}
				return printBatch(cmd.OutOrStdout(), batch)
			})
		},
	}

	cmd.Flags().StringVarP(&to, "to", "t", "", "Local destination directory")
	return cmd
}
