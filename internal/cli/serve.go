package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/offerpage/offerpage/internal/campaign"
	"github.com/offerpage/offerpage/internal/config"
	"github.com/offerpage/offerpage/internal/dispatch"
	"github.com/offerpage/offerpage/internal/geo"
	"github.com/offerpage/offerpage/internal/kv"
	"github.com/offerpage/offerpage/internal/logger"
	"github.com/offerpage/offerpage/internal/offer"
	"github.com/offerpage/offerpage/internal/sender"
	"github.com/offerpage/offerpage/internal/server"
)

var port int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the offerpage HTTP server.

The server provides:
  - Tracking script at /ot.js and beacon endpoint at /b
  - Variant, offer, scoring and geocoding APIs under /api
  - Token protected dispatch, campaign and results APIs
  - Health check endpoint

Example:
  offerpage serve --port 8080`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	log := logger.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	kvStore, err := openKV(ctx, cfg)
	if err != nil {
		return err
	}
	defer kvStore.Close()

	router, err := newSenderRouter(ctx, cfg, log)
	if err != nil {
		return err
	}

	queue := newQueue(cfg, kv.WithPrefix(kvStore, "dispatch:"), router, log)
	if cfg.Dispatch.ProbeURL != "" {
		mon := dispatch.NewMonitor(queue, cfg.Dispatch.ProbeURL, cfg.Dispatch.ProbeInterval, &http.Client{Timeout: 5 * time.Second})
		go mon.Run(ctx)
	}

	srv := server.New(server.Deps{
		Store: st,
		KV:    kvStore,
		Geo:   newGeoClient(cfg, kv.WithPrefix(kvStore, "geo:"), log),
		Queue: queue,
		Campaigns: campaign.NewRenderer(campaign.Sender{
			CompanyName: cfg.Campaign.CompanyName,
			AgentName:   cfg.Campaign.AgentName,
		}),
		Log: log,
	}, server.Options{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		Token:          cfg.Server.Token,
		TokenFile:      getTokenFilePath(cfg),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Offer:          offerOptions(cfg),
		Experiments:    cfg.Experiments,
		SessionTTL:     cfg.Server.SessionTTL,
	})

	printStartup(cfg, srv.Token())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// A second interrupt kills the process.
	stop()
	log.Info("shutting down")
	queue.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	queue.Wait()
	return nil
}

func printStartup(cfg *config.Config, token string) {
	base := fmt.Sprintf("http://%s", cfg.Server.Addr())
	fmt.Println()
	fmt.Printf("Server running at %s\n", base)
	fmt.Printf("Results: %s/api/results?token=%s\n", base, token)
	fmt.Println()
	fmt.Println("Add the tracker to your offer page:")
	fmt.Printf("  <script src=\"%s/ot.js\" defer></script>\n", base)
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")
}

func offerOptions(cfg *config.Config) offer.Options {
	return offer.Options{
		Currency:  cfg.Offer.Currency,
		Locale:    cfg.Offer.Locale,
		ShortForm: cfg.Offer.ShortForm,
	}
}

func newGeoClient(cfg *config.Config, cache kv.Store, log *logger.Logger) *geo.Client {
	return geo.NewClient(cache,
		geo.WithBaseURL(cfg.Geocoder.BaseURL),
		geo.WithUserAgent(cfg.Geocoder.UserAgent),
		geo.WithMinInterval(cfg.Geocoder.MinInterval),
		geo.WithTTL(cfg.Geocoder.TTL),
		geo.WithLogger(log),
	)
}

// newSenderRouter registers SES for email and the HTTP provider for sms
// and voice, each only when configured.
func newSenderRouter(ctx context.Context, cfg *config.Config, log *logger.Logger) (*sender.Router, error) {
	router := sender.NewRouter()
	if cfg.SES.Enabled() {
		ses, err := sender.NewSESFromCredentials(ctx, cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region, cfg.SES.From, cfg.SES.ReplyTo, log)
		if err != nil {
			return nil, err
		}
		router.Handle(dispatch.ChannelEmail, ses)
	}
	if cfg.SMS.Enabled() {
		provider := sender.NewHTTPProvider(cfg.SMS.Endpoint, cfg.SMS.Token, nil, log)
		router.Handle(dispatch.ChannelSMS, provider)
		router.Handle(dispatch.ChannelVoice, provider)
	}
	return router, nil
}

func newQueue(cfg *config.Config, store kv.Store, s dispatch.Sender, log *logger.Logger) *dispatch.Queue {
	return dispatch.NewQueue(store, s,
		dispatch.WithMaxAttempts(cfg.Dispatch.MaxAttempts),
		dispatch.WithSuccessPause(cfg.Dispatch.SuccessPause),
		dispatch.WithFailurePause(cfg.Dispatch.FailurePause),
		dispatch.WithLogger(log),
		dispatch.WithOnDrop(func(r dispatch.Request, err error) {
			log.Error("dispatch dropped", "id", r.ID, "channel", string(r.Payload.Channel), "attempts", r.AttemptCount, "error", err)
		}),
	)
}

// tokenFromFile reads the token a running server wrote.
func tokenFromFile(cfg *config.Config) (string, error) {
	path := getTokenFilePath(cfg)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no server running (%s not found). Start with: offerpage serve", filepath.Base(path))
		}
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("token file is empty. Restart the server with: offerpage serve")
	}
	return string(data), nil
}
