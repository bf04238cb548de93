package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rescale/duopane/internal/models"
	"github.com/rescale/duopane/internal/pathutil"
)

// newLsCmd creates the 'ls' command: the local pane as a tree.
func newLsCmd(v *viper.Viper) *cobra.Command {
	var expand []string
	var filter string
	var all bool
	var showIcons bool

	cmd := &cobra.Command{
		Use:   "ls [dir]",
		Short: "List a local directory as a lazily expanded tree",
		Long: `List a local directory. Only the top level is read unless folders are
expanded with --expand; each expanded folder is read once.

Examples:
  duopane ls
  duopane ls ~/projects --expand src --expand src/internal
  duopane ls . --filter '*.go'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			s, err := newSession(v, all)
			if err != nil {
				return err
			}
			defer s.Close()

			dir := ""
			if len(args) == 1 {
				if dir, err = pathutil.Resolve(args[0]); err != nil {
					return err
				}
			}
			local := s.comp.Local()
			if err := s.comp.OpenLocal(ctx, dir); err != nil {
				return err
			}
			root := local.RootPath()

			for _, p := range expand {
				id := root
				for _, part := range strings.Split(filepath.ToSlash(p), "/") {
					if part == "" {
						continue
					}
					id = filepath.Join(id, part)
					node, ok := local.Node(id)
					if !ok {
						return fmt.Errorf("%s: not found under %s", p, root)
					}
					if node.Expanded {
						continue
					}
					if err := local.Toggle(ctx, id); err != nil {
						return err
					}
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, root)
			if filter != "" {
				for _, n := range local.Filter(filter) {
					fmt.Fprintln(out, "  "+displayName(n.Name, n.IsDir))
				}
				return nil
			}

			rows := local.Visible()
			label := func(string, bool) string { return "" }
			if showIcons {
				names := make([]string, 0, len(rows))
				for _, row := range rows {
					if !row.Node.IsDir {
						names = append(names, row.Node.Name)
					}
				}
				label = iconLabeler(s.comp.Icons(models.PaneLocal), names)
			}
			for _, row := range rows {
				line := strings.Repeat("  ", row.Depth+1)
				if showIcons {
					line += "[" + label(row.Node.Name, row.Node.IsDir) + "] "
				}
				line += displayName(row.Node.Name, row.Node.IsDir)
				if !row.Node.IsDir {
					line += "  " + formatSize(row.Node.Size)
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&expand, "expand", "e", nil, "Expand a folder (relative path, repeatable)")
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "Show only top-level names matching a substring or glob")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include hidden files")
	cmd.Flags().BoolVar(&showIcons, "icons", false, "Show the icon name of each entry")
	return cmd
}

func displayName(name string, isDir bool) string {
	if isDir {
		return name + "/"
	}
	return name
}
