package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"talentlink/internal/chat"
	"talentlink/internal/config"
	"talentlink/internal/db"
	"talentlink/internal/engine"
	"talentlink/internal/logging"
	"talentlink/internal/mail"
	"talentlink/internal/migrate"
	"talentlink/internal/notify"
	"talentlink/internal/repo"
	"talentlink/internal/reviews"
	"talentlink/internal/server"
	"talentlink/internal/storage"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Talentlink CLI",
	Long: `Talentlink runs a freelance marketplace: clients post projects, freelancers send
proposals, an accepted proposal becomes a contract both sides sign, and the parties
talk in a per-contract conversation until the work is done and reviewed.

Configuration is read from talentlink.yml in the workspace (see 'tl config init').
Secrets can come from the environment or a .env file:
  TALENTLINK_JWT_SECRET   signs bearer tokens
  TALENTLINK_ADDR         overrides server.addr`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	_ = godotenv.Load()
	viper.SetEnvPrefix("TALENTLINK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", "", "workspace directory (default from config, else .)")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/talentlink.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(contractCmd())
	rootCmd.AddCommand(notificationsCmd())
}

// loadConfig reads the workspace config and applies flag and environment overrides.
func loadConfig() (*config.Config, error) {
	workspace := viper.GetString("workspace")
	path := viper.GetString("config")
	if path == "" {
		path = config.Path(workspace)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if workspace != "" && workspace != cfg.Database.Workspace {
		if cfg.Storage.Dir == filepath.Join(cfg.Database.Workspace, ".talentlink", "uploads") {
			cfg.Storage.Dir = filepath.Join(workspace, ".talentlink", "uploads")
		}
		cfg.Database.Workspace = workspace
	}
	if secret := viper.GetString("jwt-secret"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if addr := viper.GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	return cfg, nil
}

func openDB(cfg *config.Config) (*repo.Repo, func(), error) {
	conn, err := db.Open(db.Config{Workspace: cfg.Database.Workspace, BusyTimeoutMS: cfg.Database.BusyTimeoutMS})
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return &repo.Repo{DB: conn}, func() { conn.Close() }, nil
}

func serveCmd() *cobra.Command {
	var basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if basePath != "" {
				cfg.Server.BasePath = basePath
			}
			level, err := logging.ParseLevel(cfg.Logging.Level)
			if err != nil {
				return err
			}
			logging.Init(level, cfg.Logging.Format)
			if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
				return fmt.Errorf("auth.jwt_secret or TALENTLINK_JWT_SECRET is required")
			}

			r, closeDB, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mailer, err := mail.New(cfg.Mail, logging.New("mail"))
			if err != nil {
				return err
			}
			notes := notify.New(cfg.Notifications, *r, mailer, logging.New("notify"))
			notes.Start(context.WithoutCancel(ctx))
			chats := chat.New(r.DB, storage.NewLocalStore(cfg.Storage), chat.NewPoller(cfg.Chat), notes, logging.New("chat"))
			ledger := reviews.New(r.DB, notes, logging.New("reviews"))
			e := engine.New(r.DB, notes, logging.New("engine"))
			e.Hooks.ContractCreated = chats.ContractCreatedHook()

			handler, err := server.New(server.Config{
				Engine:   e,
				Notify:   notes,
				Chat:     chats,
				Reviews:  ledger,
				BasePath: cfg.Server.BasePath,
				FilesDir: cfg.Storage.Dir,
				Auth: server.AuthConfig{
					JWTSecret:              cfg.Auth.JWTSecret,
					AllowLegacyActorHeader: cfg.Auth.AllowLegacyActorHeader,
					DevLogin:               cfg.Auth.DevLogin,
					Logger:                 logging.New("auth"),
				},
				Logger: logging.New("http"),
			})
			if err != nil {
				return err
			}
			srv := newHTTPServer(cfg.Server.Addr, handler, cfg.Chat.PollTimeout)
			forwarder := server.NewHistoryForwarder(e.Audit, cfg.Webhooks, logging.New("webhooks"))

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logging.New("http").Info("serving talentlink API", "addr", cfg.Server.Addr, "base_path", cfg.Server.BasePath, "docs", "/docs")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			if forwarder.Enabled() {
				g.Go(func() error { return forwarder.Run(gctx) })
			}
			g.Go(func() error {
				<-gctx.Done()
				return shutdown(srv, notes, shutdownGrace)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides server.base_path)")
	return cmd
}

const shutdownGrace = 10 * time.Second

// newHTTPServer builds the API server. Request contexts derive from a base context that
// is cancelled as soon as Shutdown starts, so open long polls return instead of holding
// the shutdown until their poll timeout.
func newHTTPServer(addr string, handler http.Handler, pollTimeout time.Duration) *http.Server {
	base, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      pollTimeout + 30*time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	srv.RegisterOnShutdown(cancel)
	return srv
}

// shutdown stops the HTTP server, then drains the notification queue. Each step gets
// its own grace period.
func shutdown(srv *http.Server, notes *notify.Dispatcher, grace time.Duration) error {
	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), grace)
	defer cancelHTTP()
	err := srv.Shutdown(httpCtx)

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), grace)
	defer cancelDrain()
	if closeErr := notes.Close(drainCtx); closeErr != nil {
		logging.New("notify").Warn("notification queue not drained in time", "err", closeErr, "stats", notes.Stats())
	}
	return err
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			r, closeDB, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer closeDB()
			version, err := migrate.Version(r.DB)
			if err != nil {
				return err
			}
			return printJSONOrTable(map[string]any{"database": db.Path(cfg.Database.Workspace), "version": version})
		},
	}
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Inspect and create talentlink.yml"}
	c.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default config into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := viper.GetString("config")
			if path == "" {
				path = config.Path(workspace)
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			redacted := *cfg
			if redacted.Auth.JWTSecret != "" {
				redacted.Auth.JWTSecret = "***"
			}
			return printJSON(redacted)
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return c
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage users"}
	u.AddCommand(userCreateCmd())
	u.AddCommand(userListCmd())
	return u
}

func userCreateCmd() *cobra.Command {
	var opts engine.UserCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a client or freelancer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				user, err := e.RegisterUser(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(user)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Username, "username", "", "username")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email address")
	cmd.Flags().StringVar(&opts.DisplayName, "display-name", "", "display name")
	cmd.Flags().StringVar(&opts.Role, "role", "", "client or freelancer")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func userListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				users, err := e.Repo.ListUsers(ctx, role)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := newTable("ID", "Username", "Role", "Email", "Created")
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Username, u.Role, u.Email, u.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}

	var username, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key for a user; the key is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				u, err := e.Repo.GetUserByUsername(ctx, username)
				if err != nil {
					return fmt.Errorf("user %s: %w", username, err)
				}
				key, plain, err := e.CreateAPIKey(ctx, u.Actor(), name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"id": key.ID, "user_id": key.UserID, "name": key.Name, "key": plain})
			})
		},
	}
	create.Flags().StringVar(&username, "user", "", "username")
	create.Flags().StringVar(&name, "name", "", "key label")
	_ = create.MarkFlagRequired("user")

	var listUser string
	list := &cobra.Command{
		Use:   "list",
		Short: "List a user's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				u, err := e.Repo.GetUserByUsername(ctx, listUser)
				if err != nil {
					return fmt.Errorf("user %s: %w", listUser, err)
				}
				keys, err := e.Repo.ListAPIKeys(ctx, u.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Name", "Created")
				for _, key := range keys {
					tw.AppendRow(table.Row{key.ID, key.Name, key.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listUser, "user", "", "username")
	_ = list.MarkFlagRequired("user")

	revoke := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}

	k.AddCommand(create, list, revoke)
	return k
}

func tokenCmd() *cobra.Command {
	var username string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, cfg *config.Config) error {
				u, err := e.Repo.GetUserByUsername(ctx, username)
				if err != nil {
					return fmt.Errorf("user %s: %w", username, err)
				}
				token, err := server.SignToken(cfg.Auth.JWTSecret, u, ttl, time.Now())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"token": token})
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "username")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func projectCmd() *cobra.Command {
	p := &cobra.Command{Use: "project", Short: "Inspect projects"}
	var f repo.ProjectFilters
	list := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				items, err := e.ListProjects(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Title", "Status", "Budget", "Client")
				for _, pr := range items {
					tw.AppendRow(table.Row{pr.ID, pr.Title, pr.Status, formatCents(pr.BudgetCents), pr.ClientID})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&f.Status, "status", "", "status filter")
	list.Flags().StringVar(&f.ClientID, "client-id", "", "client filter")
	list.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	p.AddCommand(list)
	return p
}

func contractCmd() *cobra.Command {
	c := &cobra.Command{Use: "contract", Short: "Inspect contracts"}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List contracts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				items, err := e.Repo.ListContracts(ctx, repo.ContractFilters{Status: status})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Title", "Status", "Progress", "Agreed", "Client", "Freelancer")
				for _, ct := range items {
					tw.AppendRow(table.Row{ct.ID, ct.Title, ct.Status, fmt.Sprintf("%d%%", ct.Progress), formatCents(ct.AgreedCents), ct.ClientID, ct.FreelancerID})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "status filter")

	show := &cobra.Command{
		Use:   "show <contract-id>",
		Short: "Show a contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				ct, err := e.Repo.GetContract(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(ct)
			})
		},
	}

	history := &cobra.Command{
		Use:   "history <contract-id>",
		Short: "Show a contract's status history, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				if _, err := e.Repo.GetContract(ctx, args[0]); err != nil {
					return err
				}
				entries, err := e.Audit.List(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := newTable("ID", "From", "To", "By", "Reason", "At")
				for _, h := range entries {
					tw.AppendRow(table.Row{h.ID, h.OldStatus, h.NewStatus, h.ChangedBy, h.Reason, h.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}

	c.AddCommand(list, show, history)
	return c
}

func notificationsCmd() *cobra.Command {
	n := &cobra.Command{Use: "notifications", Short: "Inspect notifications"}
	var username string
	var unreadOnly bool
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List a user's notifications, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				u, err := e.Repo.GetUserByUsername(ctx, username)
				if err != nil {
					return fmt.Errorf("user %s: %w", username, err)
				}
				items, err := e.Repo.ListNotifications(ctx, u.ID, unreadOnly, limit, 0)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Type", "Title", "Read", "Email", "Created")
				for _, item := range items {
					tw.AppendRow(table.Row{item.ID, item.Type, item.Title, item.IsRead, item.EmailStatus, item.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&username, "user", "", "username")
	list.Flags().BoolVar(&unreadOnly, "unread", false, "only unread notifications")
	list.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	_ = list.MarkFlagRequired("user")
	n.AddCommand(list)
	return n
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, *config.Config) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	r, closeDB, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer closeDB()
	e := engine.New(r.DB, nil, logging.New("engine"))
	return fn(ctx, e, cfg)
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func formatCents(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
