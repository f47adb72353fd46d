package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/retainly/outreach-cli/internal/inbox"
	"github.com/retainly/outreach-cli/internal/ingest"
	"github.com/retainly/outreach-cli/internal/metrics"
	"github.com/retainly/outreach-cli/internal/model"
	"github.com/retainly/outreach-cli/internal/research"
	"github.com/retainly/outreach-cli/internal/sender"
	"github.com/retainly/outreach-cli/internal/sequence"
	"github.com/retainly/outreach-cli/pkg/resend"
	"github.com/retainly/outreach-cli/pkg/sendgrid"
	"github.com/retainly/outreach-cli/pkg/zoom"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server and background scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		g.Go(func() error {
			return runScheduler(gctx, env)
		})

		if cfg.Scheduler.InboxDir != "" {
			g.Go(func() error {
				return runInboxPoller(gctx, env)
			})
		}

		if err := g.Wait(); err != nil && !eris.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

// runScheduler sweeps due scheduled emails on a fixed interval.
func runScheduler(ctx context.Context, env *appEnv) error {
	interval := time.Duration(cfg.Scheduler.IntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	zap.L().Info("scheduler started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("scheduler stopped")
			return nil
		case <-ticker.C:
			res, err := env.Sender.ProcessScheduled(ctx, cfg.Outreach.SendBatchLimit)
			if err != nil {
				zap.L().Error("scheduler sweep failed", zap.Error(err))
				continue
			}
			if res.Sent+res.Failed+res.Skipped > 0 {
				zap.L().Info("scheduler sweep",
					zap.Int("sent", res.Sent),
					zap.Int("failed", res.Failed),
					zap.Int("skipped", res.Skipped),
				)
			}
		}
	}
}

// runInboxPoller sweeps the inbound drop directory for replies.
func runInboxPoller(ctx context.Context, env *appEnv) error {
	interval := time.Duration(cfg.Scheduler.InboxIntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	zap.L().Info("inbox poller started",
		zap.Duration("interval", interval),
		zap.String("dir", cfg.Scheduler.InboxDir),
	)
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("inbox poller stopped")
			return nil
		case <-ticker.C:
			if _, err := env.Inbox.Poll(ctx); err != nil {
				zap.L().Error("inbox poll failed", zap.Error(err))
			}
		}
	}
}

func newRouter(env *appEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		status := "ok"
		code := http.StatusOK
		if err := env.Store.Ping(req.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]string{"status": status})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Post("/webhooks/sendgrid", func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "read body")
			return
		}
		events, err := sendgrid.ParseEvents(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid event payload")
			return
		}
		res := env.Ingestor.HandleSendGridBatch(req.Context(), events)
		writeJSON(w, http.StatusOK, map[string]int{
			"processed": res.Processed,
			"ignored":   res.Ignored,
			"failed":    res.Failed,
		})
	})

	r.Post("/webhooks/resend", func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "read body")
			return
		}
		ev, err := resend.ParseWebhookEvent(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid event payload")
			return
		}
		res := env.Ingestor.HandleResendEvent(req.Context(), ev)
		writeJSON(w, http.StatusOK, map[string]int{
			"processed": res.Processed,
			"ignored":   res.Ignored,
			"failed":    res.Failed,
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(adminAuth)

		r.Post("/emails/{id}/approve", func(w http.ResponseWriter, req *http.Request) {
			if err := approveEmail(req.Context(), env, chi.URLParam(req, "id")); err != nil {
				if eris.Is(err, sender.ErrEmailNotFound) {
					writeError(w, http.StatusNotFound, "email not found")
					return
				}
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
		})

		r.Post("/emails/{id}/schedule", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				At time.Time `json:"at"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.At.IsZero() {
				writeError(w, http.StatusBadRequest, "at (RFC3339) is required")
				return
			}
			if err := env.Sender.Schedule(req.Context(), chi.URLParam(req, "id"), body.At); err != nil {
				if eris.Is(err, sender.ErrEmailNotFound) {
					writeError(w, http.StatusNotFound, "email not found")
					return
				}
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "scheduled"})
		})

		r.Post("/emails/{id}/replied", func(w http.ResponseWriter, req *http.Request) {
			known, err := env.Ingestor.Process(req.Context(), ingest.Event{
				EmailID:  chi.URLParam(req, "id"),
				Provider: "manual",
				Type:     model.EventReply,
			})
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			if !known {
				writeError(w, http.StatusNotFound, "email not found")
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "replied"})
		})

		r.Post("/campaigns/{id}/pause", func(w http.ResponseWriter, req *http.Request) {
			if err := env.Store.SetCampaignStatus(req.Context(), chi.URLParam(req, "id"), model.CampaignStatusPaused); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
		})

		r.Post("/campaigns/{id}/resume", func(w http.ResponseWriter, req *http.Request) {
			if err := env.Store.SetCampaignStatus(req.Context(), chi.URLParam(req, "id"), model.CampaignStatusActive); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
		})

		r.Post("/prospects/{id}/research", func(w http.ResponseWriter, req *http.Request) {
			force := req.URL.Query().Get("force") == "true"
			rec, err := env.Enricher.Enrich(req.Context(), chi.URLParam(req, "id"), force)
			if err != nil {
				if eris.Is(err, research.ErrProspectNotFound) {
					writeError(w, http.StatusNotFound, "prospect not found")
					return
				}
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, rec)
		})

		r.Post("/links/{id}/generate", func(w http.ResponseWriter, req *http.Request) {
			drafts, err := env.Generator.Generate(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				if eris.Is(err, sequence.ErrLinkNotFound) {
					writeError(w, http.StatusNotFound, "link not found")
					return
				}
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, drafts)
		})

		r.Post("/inbound", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				MessageID  string    `json:"message_id"`
				From       string    `json:"from"`
				Subject    string    `json:"subject"`
				ReceivedAt time.Time `json:"received_at"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.From == "" {
				writeError(w, http.StatusBadRequest, "from is required")
				return
			}
			matched, err := env.Inbox.Handle(req.Context(), inbox.InboundMessage{
				MessageID:  body.MessageID,
				From:       body.From,
				Subject:    body.Subject,
				ReceivedAt: body.ReceivedAt,
			})
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, map[string]bool{"matched": matched})
		})

		r.Post("/meetings", func(w http.ResponseWriter, req *http.Request) {
			if env.Zoom == nil {
				writeError(w, http.StatusNotImplemented, "zoom is not configured")
				return
			}
			var body struct {
				Topic     string    `json:"topic"`
				StartTime time.Time `json:"start_time"`
				Duration  int       `json:"duration"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Topic == "" || body.StartTime.IsZero() {
				writeError(w, http.StatusBadRequest, "topic and start_time are required")
				return
			}
			if body.Duration <= 0 {
				body.Duration = cfg.Outreach.MeetingDurationMin
			}
			meeting, err := env.Zoom.CreateMeeting(req.Context(), zoom.MeetingRequest{
				Topic:     body.Topic,
				StartTime: body.StartTime,
				Duration:  body.Duration,
			})
			if err != nil {
				writeError(w, http.StatusBadGateway, err.Error())
				return
			}
			writeJSON(w, http.StatusCreated, meeting)
		})
	})

	return r
}

// adminAuth requires the configured bearer key on /admin routes.
func adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if cfg.Server.AdminKey == "" {
			writeError(w, http.StatusForbidden, "admin API disabled: no admin key configured")
			return
		}
		if req.Header.Get("Authorization") != "Bearer "+cfg.Server.AdminKey {
			writeError(w, http.StatusUnauthorized, "invalid admin key")
			return
		}
		next.ServeHTTP(w, req)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
