package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mitselek/polyphony-sub002/internal/config"
	"github.com/mitselek/polyphony-sub002/internal/email"
	httpx "github.com/mitselek/polyphony-sub002/internal/http"
	"github.com/mitselek/polyphony-sub002/internal/http/handlers"
	"github.com/mitselek/polyphony-sub002/internal/invite"
	"github.com/mitselek/polyphony-sub002/internal/keys"
	"github.com/mitselek/polyphony-sub002/internal/metrics"
	"github.com/mitselek/polyphony-sub002/internal/oauth/google"
	"github.com/mitselek/polyphony-sub002/internal/observability/logger"
	"github.com/mitselek/polyphony-sub002/internal/rate"
	"github.com/mitselek/polyphony-sub002/internal/sso"
	"github.com/mitselek/polyphony-sub002/internal/store/core"
	"github.com/mitselek/polyphony-sub002/internal/store/memory"
	"github.com/mitselek/polyphony-sub002/internal/store/pg"
	"github.com/mitselek/polyphony-sub002/internal/token"
	"github.com/mitselek/polyphony-sub002/migrations"

	"github.com/google/uuid"
	rdb "github.com/redis/go-redis/v9"
)

func main() {
	var (
		cfgPath = envOr("REGISTRY_CONFIG", "configs/config.yaml")
		envFile = envOr("REGISTRY_ENV_FILE", ".env")
	)

	root := &cobra.Command{
		Use:   "registry",
		Short: "Registry de autenticación federada para los vaults del coro",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				_ = godotenv.Load(envFile)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", cfgPath, "ruta a config.yaml (env REGISTRY_CONFIG)")
	root.PersistentFlags().StringVar(&envFile, "env-file", envFile, "ruta a .env (env REGISTRY_ENV_FILE)")

	// ─────────── serve ───────────
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servicio HTTP del registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cfgPath)
		},
	}

	// ─────────── migrate ───────────
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones de schema (solo postgres)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != "postgres" {
				return fmt.Errorf("migrate: el driver %q no usa migraciones", cfg.Storage.Driver)
			}
			ctx := cmd.Context()
			st, err := pg.New(ctx, cfg.Storage.DSN)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.RunMigrations(ctx, migrations.FS, migrations.Dir); err != nil {
				return err
			}
			fmt.Println("migraciones aplicadas")
			return nil
		},
	}

	// ─────────── keys ───────────
	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Gestión de claves de firma",
	}
	keysCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Genera un nuevo par Ed25519 (pasa a ser la clave activa)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cfgPath, func(ctx context.Context, _ *config.Config, repo core.Repository) error {
				k, err := keys.NewService(repo).Create(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("kid=%s created_at=%s\n", k.ID, k.CreatedAt.Format(time.RFC3339))
				return nil
			})
		},
	}
	keysListCmd := &cobra.Command{
		Use:   "list",
		Short: "Lista todas las claves con su estado",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cfgPath, func(ctx context.Context, _ *config.Config, repo core.Repository) error {
				recs, err := repo.ListSigningKeys(ctx, true)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "KID\tALG\tCREATED\tREVOKED")
				for _, k := range recs {
					revoked := "-"
					if k.RevokedAt != nil {
						revoked = k.RevokedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", k.ID, k.Algorithm, k.CreatedAt.Format(time.RFC3339), revoked)
				}
				return tw.Flush()
			})
		},
	}
	keysRevokeCmd := &cobra.Command{
		Use:   "revoke <kid>",
		Short: "Revoca una clave (sale del JWKS; idempotente)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cfgPath, func(ctx context.Context, _ *config.Config, repo core.Repository) error {
				if err := keys.NewService(repo).Revoke(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("revocada")
				return nil
			})
		},
	}
	keysCmd.AddCommand(keysCreateCmd, keysListCmd, keysRevokeCmd)

	// ─────────── vault ───────────
	vaultCmd := &cobra.Command{
		Use:   "vault",
		Short: "Registro de vaults (tenants) que confían en el registry",
	}
	var vaultName, vaultCallback string
	vaultRegisterCmd := &cobra.Command{
		Use:   "register <vault-id>",
		Short: "Registra un vault con su callback exacto",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if vaultName == "" || vaultCallback == "" {
				return errors.New("--name y --callback son obligatorios")
			}
			// la audiencia "sso" está reservada para el cookie de sesión
			if args[0] == token.AudienceSSO {
				return fmt.Errorf("el id %q está reservado", token.AudienceSSO)
			}
			if !strings.HasPrefix(vaultCallback, "https://") {
				return errors.New("el callback debe ser https")
			}
			return withStore(cfgPath, func(ctx context.Context, _ *config.Config, repo core.Repository) error {
				v := &core.Vault{ID: args[0], Name: vaultName, CallbackURL: vaultCallback, Active: true}
				if err := repo.CreateVault(ctx, v); err != nil {
					return err
				}
				fmt.Printf("vault %s registrado\n", v.ID)
				return nil
			})
		},
	}
	vaultRegisterCmd.Flags().StringVar(&vaultName, "name", "", "nombre del vault")
	vaultRegisterCmd.Flags().StringVar(&vaultCallback, "callback", "", "callback URL exacta (https)")
	vaultDeactivateCmd := &cobra.Command{
		Use:   "deactivate <vault-id>",
		Short: "Desactiva un vault (deja de poder iniciar flujos)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cfgPath, func(ctx context.Context, _ *config.Config, repo core.Repository) error {
				if err := repo.SetVaultActive(ctx, args[0], false); err != nil {
					return err
				}
				fmt.Println("desactivado")
				return nil
			})
		},
	}
	vaultCmd.AddCommand(vaultRegisterCmd, vaultDeactivateCmd)

	// ─────────── invite ───────────
	inviteCmd := &cobra.Command{
		Use:   "invite",
		Short: "Ciclo de vida de invitaciones de onboarding",
	}
	var invRoles []string
	var invBy, invVoice, invMemberName, invEmail string
	inviteCreateCmd := &cobra.Command{
		Use:   "create <roster-member-id>",
		Short: "Emite un invite pending para un roster member (crea el member si no existe)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cfgPath, func(ctx context.Context, cfg *config.Config, repo core.Repository) error {
				memberID := args[0]
				if memberID == "" {
					memberID = uuid.NewString()
				}
				if _, err := repo.GetMemberByID(ctx, memberID); errors.Is(err, core.ErrNotFound) {
					m := &core.Member{ID: memberID, Name: invMemberName}
					if err := repo.CreateMember(ctx, m); err != nil {
						return err
					}
				} else if err != nil {
					return err
				}
				var vp *string
				if invVoice != "" {
					vp = &invVoice
				}
				svc := invite.NewService(repo)
				if invEmail != "" && cfg.SMTP.Host != "" {
					sender := email.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From, cfg.SMTP.Username, cfg.SMTP.Password)
					svc = svc.WithMailer(sender, cfg.Server.PublicURL)
				}
				inv, err := svc.Create(ctx, memberID, invRoles, invBy, vp)
				if err != nil {
					return err
				}
				if invEmail != "" {
					if err := svc.SendMail(ctx, inv, invEmail, invMemberName); err != nil {
						fmt.Fprintln(os.Stderr, "warning: no se pudo mandar el mail:", err)
					}
				}
				fmt.Printf("invite_id=%s token=%s expires_at=%s\n",
					inv.ID, inv.Token, inv.ExpiresAt.Format(time.RFC3339))
				return nil
			})
		},
	}
	inviteCreateCmd.Flags().StringSliceVar(&invRoles, "role", nil, "rol pretendido (repetible)")
	inviteCreateCmd.Flags().StringVar(&invBy, "by", "cli", "quién invita")
	inviteCreateCmd.Flags().StringVar(&invVoice, "voice-part", "", "cuerda del member")
	inviteCreateCmd.Flags().StringVar(&invMemberName, "member-name", "", "nombre si el member no existe aún")
	inviteCreateCmd.Flags().StringVar(&invEmail, "email", "", "si se pasa y hay SMTP, manda el link por mail")
	inviteRenewCmd := &cobra.Command{
		Use:   "renew <invite-id>",
		Short: "Extiende la vigencia de un invite pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cfgPath, func(ctx context.Context, _ *config.Config, repo core.Repository) error {
				inv, err := invite.NewService(repo).Renew(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("expires_at=%s\n", inv.ExpiresAt.Format(time.RFC3339))
				return nil
			})
		},
	}
	inviteRevokeCmd := &cobra.Command{
		Use:   "revoke <invite-id>",
		Short: "Borra un invite pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cfgPath, func(ctx context.Context, _ *config.Config, repo core.Repository) error {
				return invite.NewService(repo).Revoke(ctx, args[0])
			})
		},
	}
	inviteCmd.AddCommand(inviteCreateCmd, inviteRenewCmd, inviteRevokeCmd)

	root.AddCommand(serveCmd, migrateCmd, keysCmd, vaultCmd, inviteCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// withStore abre el store según config, corre fn y cierra.
func withStore(cfgPath string, fn func(context.Context, *config.Config, core.Repository) error) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	logger.Init(logger.Config{Env: cfg.App.Env, Level: "warn", ServiceName: "registry-cli"})

	ctx := context.Background()
	repo, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close()
	return fn(ctx, cfg, repo)
}

func openStore(ctx context.Context, cfg *config.Config) (core.Repository, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		return pg.New(ctx, cfg.Storage.DSN)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("storage driver desconocido: %q", cfg.Storage.Driver)
	}
}

func serve(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "registry"})
	defer func() { _ = logger.Sync() }()
	log := logger.Named("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	if st, ok := repo.(*pg.Store); ok {
		if err := st.RunMigrations(ctx, migrations.FS, migrations.Dir); err != nil {
			return err
		}
	}

	ks := keys.NewService(repo)
	if err := ks.EnsureBootstrap(ctx); err != nil {
		return err
	}
	ak, err := ks.Active(ctx)
	if err != nil {
		return err
	}
	log.Info("signing key ready", logger.KID(ak.ID))

	bridge, err := google.New(ctx,
		cfg.Provider.Google.ClientID,
		cfg.Provider.Google.ClientSecret,
		cfg.Provider.Google.RedirectURL,
		cfg.Provider.Google.Scopes)
	if err != nil {
		return err
	}

	issuer := sso.NewIssuer(cfg.Server.PublicURL, ks)
	session := sso.NewSession(issuer, cfg.SSO.Domain, cfg.SSO.Secure, cfg.SSO.DefaultRedirect)
	if cfg.SSO.CookieName != "" {
		session.CookieName = cfg.SSO.CookieName
	}

	invites := invite.NewService(repo)
	if cfg.SMTP.Host != "" {
		sender := email.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From, cfg.SMTP.Username, cfg.SMTP.Password)
		if cfg.SMTP.TLS != "" {
			sender.TLSMode = cfg.SMTP.TLS
		}
		sender.InsecureSkipVerify = cfg.SMTP.InsecureSkipVerify
		invites = invites.WithMailer(sender, cfg.Server.PublicURL)
	}

	var startLim, cbLim rate.Limiter
	if cfg.Rate.Enabled {
		startWin := config.Window(cfg.Rate.Start.Window, time.Minute)
		cbWin := config.Window(cfg.Rate.Callback.Window, time.Minute)
		if cfg.Rate.RedisAddr != "" {
			client := rdb.NewClient(&rdb.Options{Addr: cfg.Rate.RedisAddr})
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			startLim = rate.NewRedisLimiter(client, "rl:", cfg.Rate.Start.Limit, startWin)
			cbLim = rate.NewRedisLimiter(client, "rl:", cfg.Rate.Callback.Limit, cbWin)
		} else {
			startLim = rate.NewMemoryLimiter(cfg.Rate.Start.Limit, startWin)
			cbLim = rate.NewMemoryLimiter(cfg.Rate.Callback.Limit, cbWin)
		}
	}

	deps := &handlers.Deps{
		Store:           repo,
		Keys:            ks,
		Issuer:          issuer,
		Session:         session,
		Bridge:          bridge,
		Invites:         invites,
		StartLimiter:    startLim,
		CallbackLimiter: cbLim,
	}

	mux := handlers.NewRouter(deps, cfg.Server.CORSAllowedOrigins, metrics.Register(nil))
	log.Info("registry starting",
		zap.String("addr", cfg.Server.Addr),
		zap.String("issuer", cfg.Server.PublicURL),
		zap.String("storage", cfg.Storage.Driver))
	return httpx.NewServer(cfg.Server.Addr, mux).Run(ctx)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
