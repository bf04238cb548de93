package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rescale/duopane/internal/config"
	dhttp "github.com/rescale/duopane/internal/http"
	"github.com/rescale/duopane/internal/models"
	"github.com/rescale/duopane/internal/oauth"
)

// newConnectionsCmd creates the 'connections' command group.
func newConnectionsCmd(v *viper.Viper) *cobra.Command {
	connCmd := &cobra.Command{
		Use:     "connections",
		Aliases: []string{"conn"},
		Short:   "Manage saved FTP and cloud connections",
		Long: `Manage the saved connections stored in the configuration file.

Commands:
  list       - List saved connections
  add-ftp    - Save an FTP or FTPS server
  add-cloud  - Save a cloud drive account
  remove     - Delete a saved connection`,
	}

	connCmd.AddCommand(newConnectionsListCmd(v))
	connCmd.AddCommand(newConnectionsAddFTPCmd(v))
	connCmd.AddCommand(newConnectionsAddCloudCmd(v))
	connCmd.AddCommand(newConnectionsRemoveCmd(v))
	return connCmd
}

func newConnectionsListCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := openConfig(v)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(cfg.FTPConnections) == 0 && len(cfg.CloudConnections) == 0 {
				fmt.Fprintln(out, "No saved connections")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tNAME\tADDRESS")
			for _, c := range cfg.FTPConnections {
				kind := "ftp"
				if c.Secure {
					kind = "ftps"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, kind, c.DisplayName(), c.Address())
			}
			for _, c := range cfg.CloudConnections {
				addr := c.Bucket
				if c.Endpoint != "" {
					addr = c.Endpoint + "/" + c.Bucket
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Provider, c.DisplayName(), addr)
			}
			return w.Flush()
		},
	}
}

func newConnectionsAddFTPCmd(v *viper.Viper) *cobra.Command {
	var (
		d           models.FTPDescriptor
		askPassword bool
	)

	cmd := &cobra.Command{
		Use:   "add-ftp",
		Short: "Save an FTP or FTPS server",
		Long: `Save an FTP or FTPS server.

Examples:
  duopane connections add-ftp --name nas --host 192.168.1.10 --user me --ask-password
  duopane connections add-ftp --host ftp.example.com --secure`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, err := openConfig(v)
			if err != nil {
				return err
			}
			if askPassword {
				if d.Password, err = promptPassword("Password"); err != nil {
					return err
				}
			}
			saved, err := cfg.AddFTP(d)
			if err != nil {
				return err
			}
			if err := store.Save(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s as %s\n", saved.DisplayName(), saved.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&d.ID, "id", "", "Connection ID (generated when empty)")
	cmd.Flags().StringVar(&d.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&d.Host, "host", "", "Server host name or address (required)")
	cmd.Flags().IntVar(&d.Port, "port", 0, "Server port (default 21)")
	cmd.Flags().StringVarP(&d.Username, "user", "u", "", "Login user")
	cmd.Flags().StringVar(&d.Password, "password", "", "Login password")
	cmd.Flags().BoolVar(&askPassword, "ask-password", false, "Prompt for the password")
	cmd.Flags().BoolVar(&d.Secure, "secure", false, "Use explicit TLS (FTPS)")
	return cmd
}

func newConnectionsAddCloudCmd(v *viper.Viper) *cobra.Command {
	var (
		d         models.CloudDescriptor
		signIn    bool
		oauthAddr string
	)

	cmd := &cobra.Command{
		Use:   "add-cloud",
		Short: "Save a cloud drive account",
		Long: `Save a cloud drive account.

Providers:
  google  - Google Drive; --token is an OAuth access token, --refresh-token
            with --client-id and --client-secret lets it be renewed.
            --oauth signs in through the browser instead
  dropbox - Dropbox; only --oauth sign-in is stored, browsing is not supported yet
  s3      - Amazon S3; --bucket and --region, --token ACCESS_KEY:SECRET_KEY
            (empty uses the default AWS credential chain)
  azure   - Azure Blob Storage; --account is the storage account, --bucket
            the container, --token a SAS query string

Examples:
  duopane connections add-cloud --provider s3 --account backups --bucket my-backups --region eu-west-1
  duopane connections add-cloud --provider azure --account myaccount --bucket data --token 'sv=...'
  duopane connections add-cloud --provider google --account me --oauth --client-id ID --client-secret SECRET`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, err := openConfig(v)
			if err != nil {
				return err
			}
			if signIn {
				if err := signInWithBrowser(cmd, cfg, &d, oauthAddr); err != nil {
					return err
				}
			}
			saved, err := cfg.AddCloud(d)
			if err != nil {
				return err
			}
			if err := store.Save(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s as %s\n", saved.DisplayName(), saved.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&d.ID, "id", "", "Connection ID (generated when empty)")
	cmd.Flags().StringVar(&d.Provider, "provider", "", "google, s3 or azure (required)")
	cmd.Flags().StringVar(&d.AccountName, "account", "", "Account name (required)")
	cmd.Flags().StringVar(&d.AccessToken, "token", "", "Access token or credentials")
	cmd.Flags().StringVar(&d.RefreshToken, "refresh-token", "", "OAuth refresh token")
	cmd.Flags().StringVar(&d.ClientID, "client-id", "", "OAuth client ID")
	cmd.Flags().StringVar(&d.ClientSecret, "client-secret", "", "OAuth client secret")
	cmd.Flags().StringVar(&d.Bucket, "bucket", "", "Bucket or container")
	cmd.Flags().StringVar(&d.Region, "region", "", "Region")
	cmd.Flags().StringVar(&d.Endpoint, "endpoint", "", "Service endpoint override")
	cmd.Flags().BoolVar(&signIn, "oauth", false, "Sign in through the browser (google, dropbox)")
	cmd.Flags().StringVar(&oauthAddr, "oauth-listen", oauth.DefaultListenAddr, "Address for the sign-in callback listener")
	return cmd
}

// signInWithBrowser runs the consent flow and stores the issued tokens in d.
func signInWithBrowser(cmd *cobra.Command, cfg *config.AppConfig, d *models.CloudDescriptor, addr string) error {
	provider, err := oauth.Lookup(d.Provider)
	if err != nil {
		return err
	}
	flow := &oauth.Flow{
		Provider:     provider,
		ClientID:     d.ClientID,
		ClientSecret: d.ClientSecret,
		ListenAddr:   addr,
		OpenBrowser: func(url string) error {
			fmt.Fprintf(cmd.ErrOrStderr(), "Opening the browser to sign in. If it does not open, visit:\n  %s\n", url)
			return oauth.OpenURL(url)
		},
	}
	if d.ClientID != "" && d.ClientSecret != "" {
		proxy := cfg.Proxy
		if dhttp.NeedsProxyPassword(proxy) {
			if proxy.Password, err = promptPassword(fmt.Sprintf("Proxy password for %s", proxy.User)); err != nil {
				return err
			}
		}
		client, err := dhttp.NewTransferClient(proxy)
		if err != nil {
			return err
		}
		flow.HTTPClient = client
	}

	tok, err := flow.Run(GetContext())
	if err != nil {
		return err
	}
	d.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		d.RefreshToken = tok.RefreshToken
	}
	return nil
}

func newConnectionsRemoveCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a saved connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, err := openConfig(v)
			if err != nil {
				return err
			}
			if err := cfg.RemoveConnection(args[0]); err != nil {
				return err
			}
			if err := store.Save(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}
}
