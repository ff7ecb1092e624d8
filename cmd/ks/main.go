package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"kravsak/internal/config"
	"kravsak/internal/db"
	"kravsak/internal/domain"
	"kravsak/internal/engine"
	"kravsak/internal/migrate"
	"kravsak/internal/server"
	"kravsak/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "ks",
	Short: "Kravsak CLI",
	Long: `Kravsak tracks NS 8407 change claims as an append-only event log.
Core concepts:
- Sak: one claim case between totalentreprenor (TE) and byggherre (BH).
- Tracks: grunnlag (liability), vederlag (compensation), frist (deadline).
  Each track carries its own claim, revisions, and owner response.
- Subsidiary outcomes: a response can attach fallback terms that only take
  effect if a trigger fires (grunnlag rejected, preclusion, no hindrance).
- Forsering: acceleration notice after a rejected frist claim, bounded by
  the daymulkt value of the denied days plus the configured margin.
- Endringsordre (EO): the change order that closes the case and locks the log.
State is never stored; every read replays the case's events.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("KRAVSAK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(sakCmd())
	rootCmd.AddCommand(kravCmd())
	rootCmd.AddCommand(responsCmd())
	rootCmd.AddCommand(forseringCmd())
	rootCmd.AddCommand(eoCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", cfgPath)
			} else {
				fmt.Printf("Config exists at %s, leaving it alone\n", cfgPath)
			}
			fmt.Printf("Workspace ready (db at %s)\n", db.Path(workspace))
			return nil
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = c.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cfg
}

func sakCmd() *cobra.Command {
	sak := &cobra.Command{
		Use:   "sak",
		Short: "Manage cases",
		Long:  "A sak is one claim case. 'state' replays the log, 'events' shows the annotated timeline.",
	}
	sak.AddCommand(sakCreateCmd())
	sak.AddCommand(sakListCmd())
	sak.AddCommand(sakStateCmd())
	sak.AddCommand(sakEventsCmd())
	return sak
}

func sakCreateCmd() *cobra.Command {
	var opts engine.SakCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new case",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CreateSak(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "case id (optional, random UUID if omitted)")
	cmd.Flags().StringVar(&opts.Tittel, "tittel", "", "case title")
	cmd.Flags().StringVar(&opts.KontraktRef, "kontrakt-ref", "", "contract reference")
	cmd.Flags().StringVar(&opts.TENavn, "te", "", "contractor name")
	cmd.Flags().StringVar(&opts.BHNavn, "bh", "", "owner name")
	_ = cmd.MarkFlagRequired("tittel")
	return cmd
}

func sakListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases with projected status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				saker, err := e.Store.ListSaker(ctx)
				if err != nil {
					return err
				}
				type row struct {
					domain.Sak
					Status       domain.OverallStatus `json:"overallStatus"`
					TotalClaimed int64                `json:"totalClaimed"`
					EventCount   int                  `json:"eventCount"`
				}
				rows := make([]row, 0, len(saker))
				for _, s := range saker {
					st, err := e.State(ctx, s.ID)
					if err != nil {
						return err
					}
					rows = append(rows, row{Sak: s, Status: st.OverallStatus, TotalClaimed: st.TotalClaimed, EventCount: st.EventCount})
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Tittel", "Status", "Claimed", "Events"})
				for _, r := range rows {
					tw.AppendRow(table.Row{r.ID, r.Tittel, r.Status, r.TotalClaimed, r.EventCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func sakStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "state <id>",
		Aliases: []string{"show"},
		Short:   "Show projected case state",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.State(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Printf("Sak: %s (%s)\n", st.SakID, st.OverallStatus)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Track", "Status", "Governs", "Revisions", "Resultat"})
				for _, t := range []domain.TrackState{st.Grunnlag, st.Vederlag, st.Frist} {
					tw.AppendRow(table.Row{t.Track, t.Status, t.Governs, t.RevisionCount, t.Resultat})
				}
				tw.Render()
				fmt.Printf("Claimed: %d  Approved: %d  EO possible: %v\n", st.TotalClaimed, st.TotalApproved, st.CanIssueChangeOrder)
				return nil
			})
		},
	}
	return cmd
}

func sakEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events <id>",
		Short: "Show the annotated event timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Events(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "Time", "Actor", "Type", "Revision", "Answers"})
				for _, it := range items {
					rev := ""
					if it.Annotation.Revision > 0 || it.Annotation.IsUpdate {
						rev = fmt.Sprintf("%d", it.Annotation.Revision)
					}
					answers := ""
					if it.Annotation.IsResponse {
						answers = fmt.Sprintf("rev %d", it.Annotation.AnswersRevision)
					}
					tw.AppendRow(table.Row{it.Event.Seq, it.Event.Time, it.Event.Actor, it.Event.Type, rev, answers})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func kravCmd() *cobra.Command {
	krav := &cobra.Command{
		Use:   "krav",
		Short: "TE claims per track",
		Long:  "Send, revise, or withdraw claims. Grunnlag must be claimed before vederlag or frist.",
	}
	krav.AddCommand(kravSendCmd())
	krav.AddCommand(kravOppdaterCmd())
	krav.AddCommand(kravTrekkCmd())
	return krav
}

func claimDataFlags(cmd *cobra.Command, data *domain.EventData) {
	cmd.Flags().StringVar(&data.Kategori, "kategori", "", "liability category (grunnlag)")
	cmd.Flags().StringVar(&data.Beskrivelse, "beskrivelse", "", "claim description")
	cmd.Flags().StringVar(&data.Metode, "metode", "", "compensation method (vederlag)")
	cmd.Flags().Int64Var(&data.Beloep, "beloep", 0, "claimed amount in NOK (vederlag)")
	cmd.Flags().IntVar(&data.Dager, "dager", 0, "claimed extension days (frist)")
}

func kravSendCmd() *cobra.Command {
	var track string
	var data domain.EventData
	var ev int
	cmd := &cobra.Command{
		Use:   "send <sak-id>",
		Short: "Submit a claim on a track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseTrack(track)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				version, err := resolveVersion(ctx, e, args[0], ev)
				if err != nil {
					return err
				}
				st, err := e.SubmitClaim(ctx, engine.ClaimOptions{
					SakID: args[0], Track: t, Actor: viper.GetString("actor-id"),
					Data: data, ExpectedVersion: version,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().StringVar(&track, "track", "", "track (grunnlag, vederlag, frist)")
	claimDataFlags(cmd, &data)
	cmd.Flags().IntVar(&ev, "expected-version", -1, "expected event count (-1 reads current)")
	_ = cmd.MarkFlagRequired("track")
	return cmd
}

func kravOppdaterCmd() *cobra.Command {
	var track string
	var data domain.EventData
	var ev int
	cmd := &cobra.Command{
		Use:   "oppdater <sak-id>",
		Short: "Revise an open claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseTrack(track)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				version, err := resolveVersion(ctx, e, args[0], ev)
				if err != nil {
					return err
				}
				st, err := e.ReviseClaim(ctx, engine.ClaimOptions{
					SakID: args[0], Track: t, Actor: viper.GetString("actor-id"),
					Data: data, ExpectedVersion: version,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().StringVar(&track, "track", "", "track (grunnlag, vederlag, frist)")
	claimDataFlags(cmd, &data)
	cmd.Flags().IntVar(&ev, "expected-version", -1, "expected event count (-1 reads current)")
	_ = cmd.MarkFlagRequired("track")
	return cmd
}

func kravTrekkCmd() *cobra.Command {
	var track, begrunnelse string
	var ev int
	cmd := &cobra.Command{
		Use:   "trekk <sak-id>",
		Short: "Withdraw a claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseTrack(track)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				version, err := resolveVersion(ctx, e, args[0], ev)
				if err != nil {
					return err
				}
				st, err := e.WithdrawClaim(ctx, engine.WithdrawOptions{
					SakID: args[0], Track: t, Actor: viper.GetString("actor-id"),
					Begrunnelse: begrunnelse, ExpectedVersion: version,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().StringVar(&track, "track", "", "track (grunnlag, vederlag, frist)")
	cmd.Flags().StringVar(&begrunnelse, "begrunnelse", "", "withdrawal reason")
	cmd.Flags().IntVar(&ev, "expected-version", -1, "expected event count (-1 reads current)")
	_ = cmd.MarkFlagRequired("track")
	return cmd
}

func responsCmd() *cobra.Command {
	resp := &cobra.Command{
		Use:   "respons",
		Short: "BH responses per track",
		Long:  "Answer or revise the owner's response on a track. Subsidiary terms and their triggers ride on the response.",
	}
	resp.AddCommand(responsSendCmd())
	resp.AddCommand(responsOppdaterCmd())
	return resp
}

func responseDataFlags(cmd *cobra.Command, data *domain.EventData, triggers *[]string, subBeloep *int64, subDager *int) {
	cmd.Flags().StringVar((*string)(&data.Resultat), "resultat", "", "result (godkjent, delvis_godkjent, avvist, avventer_spesifikasjon, frafalt)")
	cmd.Flags().StringVar(&data.Begrunnelse, "begrunnelse", "", "reasoning")
	cmd.Flags().StringArrayVar(triggers, "trigger", []string{}, "subsidiary trigger (repeatable)")
	cmd.Flags().Int64Var(subBeloep, "subsidiaer-beloep", 0, "subsidiary amount in NOK")
	cmd.Flags().IntVar(subDager, "subsidiaer-dager", 0, "subsidiary extension days")
	_ = cmd.MarkFlagRequired("resultat")
}

func applyResponseFlags(cmd *cobra.Command, data *domain.EventData, triggers []string, subBeloep int64, subDager int, godkjentBeloep int64, godkjentDager int) {
	for _, tr := range triggers {
		data.Triggere = append(data.Triggere, domain.SubsidiaerTrigger(tr))
	}
	if cmd.Flags().Changed("subsidiaer-beloep") || cmd.Flags().Changed("subsidiaer-dager") {
		data.SubsidiaerResultat = &domain.Outcome{Beloep: subBeloep, Dager: subDager}
	}
	if cmd.Flags().Changed("godkjent-beloep") {
		data.GodkjentBeloep = &godkjentBeloep
	}
	if cmd.Flags().Changed("godkjent-dager") {
		data.GodkjentDager = &godkjentDager
	}
}

func responsSendCmd() *cobra.Command {
	var track string
	var data domain.EventData
	var triggers []string
	var subBeloep, godkjentBeloep int64
	var subDager, godkjentDager, ev int
	cmd := &cobra.Command{
		Use:   "send <sak-id>",
		Short: "Submit the owner's response on a track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseTrack(track)
			if err != nil {
				return err
			}
			applyResponseFlags(cmd, &data, triggers, subBeloep, subDager, godkjentBeloep, godkjentDager)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				version, err := resolveVersion(ctx, e, args[0], ev)
				if err != nil {
					return err
				}
				st, err := e.SubmitResponse(ctx, engine.ResponseOptions{
					SakID: args[0], Track: t, Actor: viper.GetString("actor-id"),
					Data: data, ExpectedVersion: version,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().StringVar(&track, "track", "", "track (grunnlag, vederlag, frist)")
	responseDataFlags(cmd, &data, &triggers, &subBeloep, &subDager)
	cmd.Flags().Int64Var(&godkjentBeloep, "godkjent-beloep", 0, "approved amount in NOK")
	cmd.Flags().IntVar(&godkjentDager, "godkjent-dager", 0, "approved extension days")
	cmd.Flags().IntVar(&ev, "expected-version", -1, "expected event count (-1 reads current)")
	_ = cmd.MarkFlagRequired("track")
	return cmd
}

func responsOppdaterCmd() *cobra.Command {
	var track string
	var data domain.EventData
	var triggers []string
	var subBeloep, godkjentBeloep int64
	var subDager, godkjentDager, ev int
	cmd := &cobra.Command{
		Use:   "oppdater <sak-id>",
		Short: "Revise the owner's response on a track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseTrack(track)
			if err != nil {
				return err
			}
			applyResponseFlags(cmd, &data, triggers, subBeloep, subDager, godkjentBeloep, godkjentDager)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				version, err := resolveVersion(ctx, e, args[0], ev)
				if err != nil {
					return err
				}
				st, err := e.ReviseResponse(ctx, engine.ResponseOptions{
					SakID: args[0], Track: t, Actor: viper.GetString("actor-id"),
					Data: data, ExpectedVersion: version,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().StringVar(&track, "track", "", "track (grunnlag, vederlag, frist)")
	responseDataFlags(cmd, &data, &triggers, &subBeloep, &subDager)
	cmd.Flags().Int64Var(&godkjentBeloep, "godkjent-beloep", 0, "approved amount in NOK")
	cmd.Flags().IntVar(&godkjentDager, "godkjent-dager", 0, "approved extension days")
	cmd.Flags().IntVar(&ev, "expected-version", -1, "expected event count (-1 reads current)")
	_ = cmd.MarkFlagRequired("track")
	return cmd
}

func forseringCmd() *cobra.Command {
	var kostnad, dagmulkt int64
	var ev int
	cmd := &cobra.Command{
		Use:   "forsering <sak-id>",
		Short: "Notify acceleration after a rejected frist claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				version, err := resolveVersion(ctx, e, args[0], ev)
				if err != nil {
					return err
				}
				st, err := e.NotifyForsering(ctx, engine.ForseringOptions{
					SakID: args[0], Actor: viper.GetString("actor-id"),
					EstimertKostnad: kostnad, DagmulktPerDag: dagmulkt,
					ExpectedVersion: version,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().Int64Var(&kostnad, "estimert-kostnad", 0, "estimated acceleration cost in NOK")
	cmd.Flags().Int64Var(&dagmulkt, "dagmulkt-per-dag", 0, "daymulkt per day (defaults from config)")
	cmd.Flags().IntVar(&ev, "expected-version", -1, "expected event count (-1 reads current)")
	_ = cmd.MarkFlagRequired("estimert-kostnad")
	return cmd
}

func eoCmd() *cobra.Command {
	var nummer string
	var ev int
	cmd := &cobra.Command{
		Use:   "eo <sak-id>",
		Short: "Issue the change order and close the case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				version, err := resolveVersion(ctx, e, args[0], ev)
				if err != nil {
					return err
				}
				st, err := e.IssueChangeOrder(ctx, engine.ChangeOrderOptions{
					SakID: args[0], Actor: viper.GetString("actor-id"),
					EONummer: nummer, ExpectedVersion: version,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().StringVar(&nummer, "nummer", "", "change order number")
	cmd.Flags().IntVar(&ev, "expected-version", -1, "expected event count (-1 reads current)")
	_ = cmd.MarkFlagRequired("nummer")
	return cmd
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	var actor, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (plaintext shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			raw := make([]byte, 32)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			plaintext := "ks_" + hex.EncodeToString(raw)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   actor,
					Name:      name,
					KeyHash:   store.HashAPIKey(plaintext),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Store.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "key": plaintext})
				}
				fmt.Printf("API key for %s (save it, it is not stored):\n%s\n", key.ActorID, plaintext)
				return nil
			})
		},
	}
	create.Flags().StringVar(&actor, "actor", "", "actor id the key authenticates as")
	create.Flags().StringVar(&name, "name", "", "key label")
	ak.AddCommand(create)
	return ak
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("KRAVSAK_JWT_SECRET"),
				AllowLegacyActorHeader: cfg != nil && cfg.Server.AllowLegacyActorHeader,
			}
			if authCfg.JWTSecret == "" && cfg != nil {
				authCfg.JWTSecret = cfg.Server.JWTSecret
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
				return fmt.Errorf("KRAVSAK_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Kravsak API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func resolveVersion(ctx context.Context, e engine.Engine, sakID string, flag int) (int, error) {
	if flag >= 0 {
		return flag, nil
	}
	return e.Store.CountEvents(ctx, sakID)
}

func parseTrack(s string) (domain.Track, error) {
	switch domain.Track(s) {
	case domain.TrackGrunnlag, domain.TrackVederlag, domain.TrackFrist:
		return domain.Track(s), nil
	}
	return "", fmt.Errorf("unknown track %q (want grunnlag, vederlag, or frist)", s)
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
