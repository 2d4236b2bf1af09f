package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"ticketgate/internal/app"
	"ticketgate/internal/config"
	"ticketgate/internal/domain"
	"ticketgate/internal/engine"
	"ticketgate/internal/quota"
	"ticketgate/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tg",
	Short: "Ticketgate CLI",
	Long: `Ticketgate decides who may act, how many times, and how money splits.
Core concepts:
- Policy: every action (event.create, ticket.checkin, ...) is allowed by the first matching group of predicates; anything else is denied.
- Quota: named counters per actor or resource in day, month or lifetime windows; check and increment are one atomic step.
- Rate sheet: commission, processing and refund rates plus price bounds and lead times for a domain.
- Ticket: valid -> used on check-in, or cancelled, or expired once the event is over. A code admits exactly once.
- Workspace: the directory holding ticketgate.yml and the .ticketgate database.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TICKETGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-operator", "actor identifier")
	flags.StringSlice("roles", []string{domain.RoleAdmin}, "roles of the acting actor")
	flags.String("driver", "", "storage driver (sqlite, postgres, memory); overrides config")
	flags.String("dsn", "", "postgres DSN; overrides config")
	flags.String("log-level", "info", "log level")
	flags.String("log-format", "text", "log format (text or json)")
	for _, name := range []string{"workspace", "json", "actor-id", "roles", "driver", "dsn", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(ticketCmd())
	rootCmd.AddCommand(feesCmd())
	rootCmd.AddCommand(quotaCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

// loadConfig reads ticketgate.yml from the workspace and applies flag and
// environment overrides.
func loadConfig() (*config.Config, error) {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Workspace == "" || cfg.Storage.Workspace == "." {
		cfg.Storage.Workspace = workspace
	}
	if d := viper.GetString("driver"); d != "" {
		cfg.Storage.Driver = d
	}
	if dsn := viper.GetString("dsn"); dsn != "" {
		cfg.Storage.DSN = dsn
	}
	if secret := viper.GetString("jwt-secret"); secret != "" {
		cfg.Server.JWTSecret = secret
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger() *slog.Logger {
	return app.NewLogger(os.Stderr, viper.GetString("log-level"), viper.GetString("log-format"))
}

func currentActor() *domain.Actor {
	return &domain.Actor{
		ID:            viper.GetString("actor-id"),
		Roles:         domain.NewRoleSet(viper.GetStringSlice("roles")...),
		EmailVerified: true,
	}
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := app.Open(ctx, cfg, newLogger())
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage ticketgate.yml",
		Long:  "The config file holds the rate sheets, the named quotas, the storage driver and the server settings.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default ticketgate.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"path": path})
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Server.JWTSecret = redact(cfg.Server.JWTSecret)
			cfg.Storage.DSN = redact(cfg.Storage.DSN)
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate ticketgate.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			n, err := app.Migrate(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"driver": cfg.Storage.Driver, "applied": n})
			}
			fmt.Printf("%s: applied %d migration(s)\n", cfg.Storage.Driver, n)
			return nil
		},
	}
}

func eventCmd() *cobra.Command {
	ev := &cobra.Command{Use: "event", Short: "Manage events"}
	ev.AddCommand(eventCreateCmd())
	ev.AddCommand(eventShowCmd())
	ev.AddCommand(eventListCmd())
	ev.AddCommand(eventSalesCmd())
	return ev
}

func eventCreateCmd() *cobra.Command {
	var id, title, starts, ends string
	var tiers []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create and publish an event",
		Example: `  tg event create --title "Blankets and Wine" --starts 2026-12-05T14:00:00+03:00 --ends 2026-12-05T22:00:00+03:00 \
    --tier regular:2500:800:4 --tier vip:50000:50:2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				rates, err := rt.Config.RateSheet(config.SheetEvents)
				if err != nil {
					return err
				}
				startsAt, err := time.Parse(time.RFC3339, starts)
				if err != nil {
					return fmt.Errorf("--starts: %w", err)
				}
				endsAt, err := time.Parse(time.RFC3339, ends)
				if err != nil {
					return fmt.Errorf("--ends: %w", err)
				}
				opts := engine.CreateEventOptions{ID: id, Title: title, StartsAt: startsAt, EndsAt: endsAt}
				for _, spec := range tiers {
					t, err := parseTier(spec, rates.Currency)
					if err != nil {
						return err
					}
					opts.Tiers = append(opts.Tiers, t)
				}
				out, err := rt.Engine.CreateEvent(ctx, currentActor(), opts)
				if err != nil {
					return err
				}
				return printEvent(out)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "event id (generated when empty)")
	cmd.Flags().StringVar(&title, "title", "", "event title")
	cmd.Flags().StringVar(&starts, "starts", "", "start time (RFC3339)")
	cmd.Flags().StringVar(&ends, "ends", "", "end time (RFC3339)")
	cmd.Flags().StringArrayVar(&tiers, "tier", nil, "tier as name:price:capacity[:per_holder_limit], price in major units")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("starts")
	_ = cmd.MarkFlagRequired("ends")
	return cmd
}

func eventShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <event-id>",
		Short: "Show an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				ev, err := rt.Engine.GetEvent(ctx, currentActor(), args[0])
				if err != nil {
					return err
				}
				return printEvent(ev)
			})
		},
	}
}

func eventListCmd() *cobra.Command {
	var organizer string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				evs, err := rt.Engine.ListEvents(ctx, currentActor(), organizer)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evs)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Title", "Organizer", "Status", "Starts", "Tiers"})
				for _, ev := range evs {
					tw.AppendRow(table.Row{ev.ID, ev.Title, ev.OrganizerID, ev.Status, ev.StartsAt.Format(time.RFC3339), len(ev.Tiers)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&organizer, "organizer", "", "only events of this organizer")
	return cmd
}

func eventSalesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sales <event-id>",
		Short: "Sales report with payout estimate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				report, err := rt.Engine.EventSales(ctx, currentActor(), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Metric", "Value"})
				tw.AppendRows([]table.Row{
					{"Sold", report.Sales.Sold},
					{"Checked in", report.Sales.CheckedIn},
					{"Cancelled", report.Sales.Cancelled},
					{"Revenue", report.Sales.Revenue},
					{"Refunded", report.Sales.Refunded},
					{"Commission", report.Payout.Commission},
					{"Processing fee", report.Payout.ProcessingFee},
					{"Payout", report.Payout.Payout},
				})
				tw.Render()
				return nil
			})
		},
	}
}

func ticketCmd() *cobra.Command {
	tk := &cobra.Command{Use: "ticket", Short: "Issue, scan and cancel tickets"}
	tk.AddCommand(ticketIssueCmd())
	tk.AddCommand(ticketShowCmd())
	tk.AddCommand(ticketListCmd())
	tk.AddCommand(ticketCheckInCmd())
	tk.AddCommand(ticketCancelCmd())
	return tk
}

func ticketIssueCmd() *cobra.Command {
	var eventID, tier, name, email, holderActor string
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a ticket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				t, err := rt.Engine.IssueTicket(ctx, currentActor(), engine.IssueTicketOptions{
					EventID: eventID,
					Tier:    tier,
					Holder:  domain.Holder{Name: name, Email: email, ActorID: holderActor},
				})
				if err != nil {
					return err
				}
				return printTicket(t)
			})
		},
	}
	cmd.Flags().StringVar(&eventID, "event", "", "event id")
	cmd.Flags().StringVar(&tier, "tier", "", "tier name")
	cmd.Flags().StringVar(&name, "name", "", "holder name")
	cmd.Flags().StringVar(&email, "email", "", "holder email")
	cmd.Flags().StringVar(&holderActor, "holder-actor", "", "holder actor id")
	_ = cmd.MarkFlagRequired("event")
	_ = cmd.MarkFlagRequired("tier")
	return cmd
}

func ticketShowCmd() *cobra.Command {
	var byCode bool
	cmd := &cobra.Command{
		Use:   "show <ticket-id>",
		Short: "Show a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				var (
					t   domain.Ticket
					err error
				)
				if byCode {
					t, err = rt.Engine.LookupTicket(ctx, currentActor(), args[0])
				} else {
					t, err = rt.Engine.GetTicket(ctx, currentActor(), args[0])
				}
				if err != nil {
					return err
				}
				return printTicket(t)
			})
		},
	}
	cmd.Flags().BoolVar(&byCode, "code", false, "treat the argument as a ticket code")
	return cmd
}

func ticketListCmd() *cobra.Command {
	var eventID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tickets sold for an event",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				tickets, err := rt.Engine.EventTickets(ctx, currentActor(), eventID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tickets)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Tier", "Holder", "Email", "Status", "Total"})
				for _, t := range tickets {
					tw.AppendRow(table.Row{t.ID, t.Tier, t.Holder.Name, t.Holder.Email, t.Status, t.Price.Total})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&eventID, "event", "", "event id")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}

func ticketCheckInCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkin <code>",
		Short: "Admit a ticket at the gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				t, err := rt.Engine.CheckIn(ctx, currentActor(), args[0])
				if err != nil {
					return err
				}
				return printTicket(t)
			})
		},
	}
}

func ticketCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <ticket-id>",
		Short: "Cancel a valid ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.CancelTicket(ctx, currentActor(), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Ticket %s cancelled\n", res.Ticket.ID)
				if res.Refundable {
					fmt.Printf("Refund: %s\n", res.Refund)
				} else {
					fmt.Println("Refund: none (inside the cancellation period)")
				}
				return nil
			})
		},
	}
}

func feesCmd() *cobra.Command {
	fees := &cobra.Command{Use: "fees", Short: "Fee calculations"}
	fees.AddCommand(feesQuoteCmd())
	return fees
}

func feesQuoteCmd() *cobra.Command {
	var sheet, price string
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Forward pricing for a base price",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rates, err := cfg.RateSheet(sheet)
			if err != nil {
				return err
			}
			base, err := domain.ParseMajor(price, rates.Currency)
			if err != nil {
				return err
			}
			e := engine.New(nil, nil, cfg, newLogger())
			p, err := e.QuoteFees(sheet, base.Amount)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(p)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"Component", "Amount"})
			tw.AppendRows([]table.Row{
				{"Base", p.Base},
				{"Commission", p.Commission},
				{"Processing fee", p.ProcessingFee},
				{"Total", p.Total},
				{"Artist receives", p.ArtistReceives},
			})
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&sheet, "sheet", config.SheetEvents, "rate sheet name")
	cmd.Flags().StringVar(&price, "price", "", "base price in major units, e.g. 50000")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func quotaCmd() *cobra.Command {
	q := &cobra.Command{Use: "quota", Short: "Inspect and draw from named quotas"}
	q.AddCommand(quotaConsumeCmd())
	q.AddCommand(quotaPeekCmd())
	return q
}

func quotaConsumeCmd() *cobra.Command {
	var resourceID string
	var amount int64
	cmd := &cobra.Command{
		Use:   "consume <quota>",
		Short: "Consume from a quota as the current actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				d, err := rt.Engine.ConsumeQuota(ctx, currentActor(), args[0], resourceID, amount)
				if err != nil {
					return err
				}
				if err := printDecision(args[0], d); err != nil {
					return err
				}
				if !d.Allowed {
					return domain.ErrQuotaExceeded
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&resourceID, "resource", "", "resource id the quota is scoped to")
	cmd.Flags().Int64Var(&amount, "amount", 1, "units to consume")
	return cmd
}

func quotaPeekCmd() *cobra.Command {
	var resourceID string
	cmd := &cobra.Command{
		Use:   "peek <quota>",
		Short: "Show remaining quota without consuming",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				d, err := rt.Engine.PeekQuota(ctx, currentActor(), args[0], resourceID)
				if err != nil {
					return err
				}
				return printDecision(args[0], d)
			})
		},
	}
	cmd.Flags().StringVar(&resourceID, "resource", "", "resource id the quota is scoped to")
	return cmd
}

func printDecision(name string, d quota.Decision) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{"quota": name, "decision": d})
	}
	reset := "never"
	if !d.ResetAt.IsZero() {
		reset = d.ResetAt.Format(time.RFC3339)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Quota", "Allowed", "Remaining", "Limit", "Resets"})
	tw.AppendRow(table.Row{name, d.Allowed, d.Remaining, d.Limit, reset})
	tw.Render()
	return nil
}

func apiKeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys for gate scanners and integrations"}
	key.AddCommand(apiKeyCreateCmd())
	key.AddCommand(apiKeyListCmd())
	key.AddCommand(apiKeyRevokeCmd())
	return key
}

func apiKeyCreateCmd() *cobra.Command {
	var actorID, name string
	var roles []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the plaintext is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				plain, key, err := rt.Keys.CreateAPIKey(ctx, actorID, name, roles)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": plain, "id": key.ID, "actor_id": key.ActorID, "roles": key.Roles})
				}
				fmt.Printf("API key for %s (%s): %s\n", key.ActorID, strings.Join(key.Roles, ","), plain)
				fmt.Println("Store it now; it cannot be shown again.")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "label, e.g. north gate")
	cmd.Flags().StringSliceVar(&roles, "key-roles", []string{domain.RoleScanner}, "roles granted to the key")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				keys, err := rt.Keys.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Roles", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, strings.Join(k.Roles, ","), k.CreatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "only keys of this actor")
	return cmd
}

func apiKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Keys.RevokeAPIKey(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"revoked": args[0]})
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Audit log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show audit entries for an entity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				evs, err := rt.Audit.ListAudit(ctx, entityKind, entityID, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evs)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"TS", "Type", "Entity", "Actor", "Payload"})
				for _, e := range evs {
					tw.AppendRow(table.Row{e.TS.Format(time.RFC3339), e.Type, e.EntityKind + "/" + e.EntityID, e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 50, "number of entries")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "ticket", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				cfg := rt.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				if cfg.Server.JWTSecret == "" {
					return fmt.Errorf("TICKETGATE_JWT_SECRET or server.jwt_secret is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Engine:   rt.Engine,
					BasePath: basePath,
					Logger:   rt.Logger,
					Auth: server.AuthConfig{
						JWTSecret:              cfg.Server.JWTSecret,
						AllowLegacyActorHeader: cfg.Server.AllowLegacyActorHeader,
						DevLogin:               cfg.Server.DevLogin,
						Keys:                   rt.Keys,
					},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				rt.Logger.Info("serving ticketgate API", "addr", addr, "base_path", basePath, "driver", cfg.Storage.Driver)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

// parseTier reads name:price:capacity[:per_holder_limit] with the price in
// major units.
func parseTier(spec, currency string) (domain.Tier, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 3 || len(parts) > 4 {
		return domain.Tier{}, fmt.Errorf("invalid --tier %q: want name:price:capacity[:per_holder_limit]", spec)
	}
	price, err := domain.ParseMajor(parts[1], currency)
	if err != nil {
		return domain.Tier{}, fmt.Errorf("tier %s: %w", parts[0], err)
	}
	capacity, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return domain.Tier{}, fmt.Errorf("tier %s capacity: %w", parts[0], err)
	}
	t := domain.Tier{Name: parts[0], BasePrice: price.Amount, Capacity: capacity}
	if len(parts) == 4 {
		if t.PerHolderLimit, err = strconv.ParseInt(parts[3], 10, 64); err != nil {
			return domain.Tier{}, fmt.Errorf("tier %s per holder limit: %w", parts[0], err)
		}
	}
	return t, nil
}

func printEvent(ev domain.Event) error {
	if viper.GetBool("json") {
		return printJSON(ev)
	}
	fmt.Printf("Event %s: %s [%s]\n", ev.ID, ev.Title, ev.Status)
	fmt.Printf("  %s -> %s\n", ev.StartsAt.Format(time.RFC3339), ev.EndsAt.Format(time.RFC3339))
	tw := newTable()
	tw.AppendHeader(table.Row{"Tier", "Base price", "Capacity", "Per holder"})
	for _, t := range ev.Tiers {
		tw.AppendRow(table.Row{t.Name, domain.NewMoney(t.BasePrice, ev.Currency), t.Capacity, t.PerHolderLimit})
	}
	tw.Render()
	return nil
}

func printTicket(t domain.Ticket) error {
	if viper.GetBool("json") {
		return printJSON(t)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Event", "Tier", "Holder", "Code", "Status", "Total"})
	tw.AppendRow(table.Row{t.ID, t.EventID, t.Tier, t.Holder.Name, t.Code, t.Status, t.Price.Total})
	tw.Render()
	return nil
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
