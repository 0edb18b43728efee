package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"dappvault/engine/conductor"
	"dappvault/engine/library"
	"dappvault/engine/metrics"
	"dappvault/state/apps"
	"dappvault/state/identity"
	"dappvault/state/wallets"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type app struct {
	conf         *viper.Viper
	metrics      *metrics.Collector
	c            *conductor.Conductor
	passwordFile string
	close        func()
}

// withVault opens the vault around fn.
func (a *app) withVault(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := a.start(); err != nil {
			return err
		}
		defer a.close()
		if err := openVault(a.c, a.passwordFile); err != nil {
			return err
		}
		return fn(cmd, args)
	}
}

func (a *app) start() error {
	a.metrics = metrics.NewCollector("dappvault")
	c, closer, err := newConductor(a.conf, a.metrics)
	if err != nil {
		return err
	}
	a.c, a.close = c, closer
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func RootCommand(conf *viper.Viper) *cobra.Command {
	a := &app{conf: conf}
	rootCmd := &cobra.Command{
		Use:           "vaultd",
		Short:         "Custody identities and wallets, befriend peers and publish apps over feeds",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&a.passwordFile, "password-file", "", "read the vault password from this file instead of prompting")
	rootCmd.PersistentFlags().StringSlice("relays", nil, "relay urls feeds are published to")
	rootCmd.PersistentFlags().Int("log-level", conf.GetInt("logLevel"), "0 fatal ... 5 trace")
	_ = conf.BindPFlag("relays", rootCmd.PersistentFlags().Lookup("relays"))
	_ = conf.BindPFlag("logLevel", rootCmd.PersistentFlags().Lookup("log-level"))
	rootCmd.PersistentPreRun = func(*cobra.Command, []string) {
		library.SetLogLevel(conf.GetInt("logLevel"))
	}

	var remember bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "create an empty vault",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.start(); err != nil {
				return err
			}
			defer a.close()
			password, err := readPassword(a.passwordFile, "New vault password: ")
			if err != nil {
				return err
			}
			if err := a.c.CreateVault(password); err != nil {
				return err
			}
			if remember && !a.c.SavePassword(password) {
				library.LogCLI("password was not stored in the keychain", 2)
			}
			fmt.Printf("vault created in %s\n", conf.GetString("vaultDir"))
			return nil
		},
	}
	initCmd.Flags().BoolVar(&remember, "remember", false, "keep the password in the OS keychain")
	rootCmd.AddCommand(initCmd)

	rootCmd.AddCommand(userCommand(a), contactCommand(a), walletCommand(a), appCommand(a), runCommand(a))
	return rootCmd
}

func userCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "manage own users"}
	var profile identity.Profile
	create := &cobra.Command{
		Use:   "create",
		Short: "create a user with a fresh key pair",
		RunE: a.withVault(func(cmd *cobra.Command, args []string) error {
			u, err := a.c.CreateUser(profile)
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"id": u.ID, "publicKey": u.KeyPair.PublicKey, "publicFeed": u.PublicFeed.FeedHash})
		}),
	}
	create.Flags().StringVar(&profile.Name, "name", "", "display name")
	create.Flags().StringVar(&profile.Bio, "bio", "", "short bio")
	create.Flags().StringVar(&profile.Avatar, "avatar", "", "avatar url")

	developer := &cobra.Command{
		Use:   "developer",
		Short: "create a developer identity apps are signed with",
		RunE: a.withVault(func(cmd *cobra.Command, args []string) error {
			d, err := a.c.CreateDeveloper(profile)
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"id": d.ID, "publicKey": d.KeyPair.PublicKey})
		}),
	}
	developer.Flags().StringVar(&profile.Name, "name", "", "developer name")

	var private bool
	privacy := &cobra.Command{
		Use:   "private <user id>",
		Short: "stop or resume publishing a user's profile",
		Args:  cobra.ExactArgs(1),
		RunE: a.withVault(func(cmd *cobra.Command, args []string) error {
			return a.c.SetUserPrivate(args[0], private)
		}),
	}
	privacy.Flags().BoolVar(&private, "on", true, "keep the profile private")

	list := &cobra.Command{
		Use:   "list",
		Short: "list own users",
		RunE: a.withVault(func(cmd *cobra.Command, args []string) error {
			doc, err := a.c.Document()
			if err != nil {
				return err
			}
			for _, u := range doc.Identities.Users {
				fmt.Printf("%s %s private=%v feed=%s\n", u.ID, u.Profile.Name, u.PrivateProfile, u.PublicFeed.FeedHash)
			}
			return nil
		}),
	}
	cmd.AddCommand(create, developer, privacy, list)
	return cmd
}

func contactCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "contact", Short: "manage a user's contacts"}
	var alias identity.ContactProfile
	add := &cobra.Command{
		Use:   "add <user id> <public feed hash>",
		Short: "add the peer behind a public feed as a contact and start the handshake",
		Args:  cobra.ExactArgs(2),
		RunE: a.withVault(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			contact, err := a.c.CreateContactFromFeed(ctx, args[0], args[1], alias)
			if err != nil {
				return err
			}
			if err := a.c.EstablishContact(ctx, args[0], contact.ID); err != nil {
				return err
			}
			doc, err := a.c.Document()
			if err != nil {
				return err
			}
			stored, err := doc.Identities.Contact(args[0], contact.ID)
			if err != nil {
				return err
			}
			fmt.Printf("contact %s is %s\n", stored.ID, stored.ConnectionState)
			return nil
		}),
	}
	add.Flags().StringVar(&alias.Name, "alias", "", "local name for the contact")

	remove := &cobra.Command{
		Use:   "delete <user id> <contact id>",
		Short: "delete a contact",
		Args:  cobra.ExactArgs(2),
		RunE: a.withVault(func(cmd *cobra.Command, args []string) error {
			return a.c.DeleteContact(args[0], args[1])
		}),
	}
	establish := &cobra.Command{
		Use:   "establish <user id> <contact id>",
		Short: "send the first contact again or pick up the peer's reply",
		Args:  cobra.ExactArgs(2),
		RunE: a.withVault(func(cmd *cobra.Command, args []string) error {
			if err := a.c.EstablishContact(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			doc, err := a.c.Document()
			if err != nil {
				return err
			}
			stored, err := doc.Identities.Contact(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("contact %s is %s\n", stored.ID, stored.ConnectionState)
			return nil
		}),
	}
	cmd.AddCommand(add, remove, establish)
	return cmd
}

func walletCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "wallet", Short: "manage wallets"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "create an HD wallet from fresh seed words",
		RunE: a.withVault(func(cmd *cobra.Command, args []string) error {
			w, err := a.c.CreateHDWallet(wallets.ChainEthereum, name)
			if err != nil {
				return err
			}
			return printJSON(w)
		}),
	}
	create.Flags().StringVar(&name, "name", "", "wallet name")

	importMnemonic := &cobra.Command{
		Use:   "import",
		Short: "restore an HD wallet from 12 seed words",
		RunE: a.withVault(func(cmd *cobra.Command, args []string) error {
			words, err := readPassword("", "Seed words: ")
			if err != nil {
				return err
			}
			w, err := a.c.ImportMnemonicWallet(wallets.ChainEthereum, words, name)
			if err != nil {
				return err
			}
			return printJSON(w)
		}),
	}
	importMnemonic.Flags().StringVar(&name, "name", "", "wallet name")

	derive := &cobra.Command{
		Use:   "derive <wallet id> <index>",
		Short: "add the account at index to an HD wallet",
		Args:  cobra.ExactArgs(2),
		RunE: a.withVault(func(cmd *cobra.Command, args []string) error {
			index, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("%w: index %q", library.ErrValidation, args[1])
			}
			address, err := a.c.AddHDWalletAccount(args[0], uint32(index))
			if err != nil {
				return err
			}
			fmt.Println(address)
			return nil
		}),
	}

	var token string
	balance := &cobra.Command{
		Use:   "balance <address>",
		Short: "print an account's balance in ether, or in a token with --token",
		Args:  cobra.ExactArgs(1),
		RunE: a.withVault(func(cmd *cobra.Command, args []string) error {
			var b decimal.Decimal
			var err error
			if token != "" {
				b, err = a.c.GetTokenBalance(cmd.Context(), token, args[0])
			} else {
				b, err = a.c.GetBalance(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			fmt.Println(b.String())
			return nil
		}),
	}

	balance.Flags().StringVar(&token, "token", "", "token contract address")

	use := &cobra.Command{
		Use:   "default <user id> <address>",
		Short: "make address the user's default account",
		Args:  cobra.ExactArgs(2),
		RunE: a.withVault(func(cmd *cobra.Command, args []string) error {
			return a.c.SetUserDefaultWallet(args[0], args[1])
		}),
	}
	cmd.AddCommand(create, importMnemonic, derive, balance, use)
	return cmd
}

func appCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "app", Short: "develop, publish and install apps"}
	var params apps.CreateParams
	create := &cobra.Command{
		Use:   "create <developer id> <contents dir>",
		Short: "create an app from a directory of contents",
		Args:  cobra.ExactArgs(2),
		RunE: a.withVault(func(cmd *cobra.Command, args []string) error {
			params.DeveloperID, params.ContentsPath = args[0], args[1]
			created, err := a.c.CreateApp(params)
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"id": created.ID, "name": created.Name, "version": created.Version})
		}),
	}
	create.Flags().StringVar(&params.Name, "name", "", "app name")
	create.Flags().StringVar(&params.Version, "version", "", "semantic version")
	create.Flags().StringSliceVar(&params.Permissions.Required, "permission", nil, "permission the app requires")

	var version string
	publish := &cobra.Command{
		Use:   "publish <app id>",
		Short: "sign and publish a version, printing the update feed hash",
		Args:  cobra.ExactArgs(1),
		RunE: a.withVault(func(cmd *cobra.Command, args []string) error {
			hash, err := a.c.PublishApp(cmd.Context(), args[0], version)
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		}),
	}
	publish.Flags().StringVar(&version, "version", "", "version to publish, the current one by default")

	var permissions apps.Permissions
	newVersion := &cobra.Command{
		Use:   "version <app id> <version>",
		Short: "start a new version of an app",
		Args:  cobra.ExactArgs(2),
		RunE: a.withVault(func(cmd *cobra.Command, args []string) error {
			return a.c.AddAppVersion(args[0], args[1], permissions)
		}),
	}
	newVersion.Flags().StringSliceVar(&permissions.Required, "permission", nil, "permission the version requires")

	contents := &cobra.Command{
		Use:   "contents <app id>",
		Short: "upload contents without publishing a manifest",
		Args:  cobra.ExactArgs(1),
		RunE: a.withVault(func(cmd *cobra.Command, args []string) error {
			uri, err := a.c.PublishContents(cmd.Context(), args[0], version)
			if err != nil {
				return err
			}
			fmt.Println(uri)
			return nil
		}),
	}
	contents.Flags().StringVar(&version, "version", "", "version to upload, the current one by default")

	install := &cobra.Command{
		Use:   "install <user id> <manifest file>",
		Short: "install a signed manifest for a user",
		Args:  cobra.ExactArgs(2),
		RunE: a.withVault(func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			var manifest apps.SignedManifest
			if err := json.Unmarshal(b, &manifest); err != nil {
				return fmt.Errorf("%w: %s", library.ErrValidation, err)
			}
			installed, err := a.c.InstallApp(cmd.Context(), manifest, args[0], apps.UserSettings{})
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", installed.ID, installed.InstallationState)
			return nil
		}),
	}
	approve := &cobra.Command{
		Use:   "approve <app id> <user id> <contact id>...",
		Short: "let an installed app see some of the user's contacts",
		Args:  cobra.MinimumNArgs(3),
		RunE: a.withVault(func(cmd *cobra.Command, args []string) error {
			approved, err := a.c.ApproveContacts(args[0], args[1], args[2:])
			if err != nil {
				return err
			}
			return printJSON(approved)
		}),
	}

	wallet := &cobra.Command{
		Use:   "wallet <app id> <user id> <address>",
		Short: "set the account an installed app uses for the user",
		Args:  cobra.ExactArgs(3),
		RunE: a.withVault(func(cmd *cobra.Command, args []string) error {
			return a.c.SetAppDefaultWallet(args[0], args[1], args[2])
		}),
	}
	cmd.AddCommand(create, publish, newVersion, contents, install, approve, wallet)
	return cmd
}
