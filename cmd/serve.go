package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/n17-labs/transferwatch/internal/model"
	"github.com/n17-labs/transferwatch/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read API and ingest webhook",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Get("/players", func(w http.ResponseWriter, req *http.Request) {
			filter := store.LinkFilter{Limit: 100}
			if s := req.URL.Query().Get("status"); s != "" {
				st := model.Status(s)
				if !model.ValidStatus(st) {
					writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", s))
					return
				}
				filter.Statuses = []model.Status{st}
			}
			if l := req.URL.Query().Get("limit"); l != "" {
				n, err := strconv.Atoi(l)
				if err != nil || n < 1 {
					writeError(w, http.StatusBadRequest, "limit must be a positive integer")
					return
				}
				filter.Limit = n
			}

			links, err := env.Store.ListPlayerLinks(req.Context(), filter)
			if err != nil {
				zap.L().Error("list players failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			writeJSON(w, http.StatusOK, links)
		})

		r.Get("/players/{id}", func(w http.ResponseWriter, req *http.Request) {
			link, err := env.Engine.GetPlayerLink(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				if eris.Is(err, model.ErrNotFound) {
					writeError(w, http.StatusNotFound, "player not found")
					return
				}
				zap.L().Error("get player failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			writeJSON(w, http.StatusOK, link)
		})

		r.Post("/players/{id}/override", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Status    string       `json:"status"`
				Direction string       `json:"direction"`
				MoveType  string       `json:"move_type"`
				Club      string       `json:"club"`
				Price     *model.Price `json:"price"`
				Note      string       `json:"note"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}

			o, err := buildOverride(body.Status, body.Direction, body.MoveType, body.Club, body.Price, body.Note)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}

			link, err := env.Engine.ManualOverride(req.Context(), chi.URLParam(req, "id"), o)
			if err != nil {
				if eris.Is(err, model.ErrNotFound) {
					writeError(w, http.StatusNotFound, "player not found")
					return
				}
				zap.L().Error("override failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			writeJSON(w, http.StatusOK, link)
		})

		r.Post("/sweep", func(w http.ResponseWriter, req *http.Request) {
			archived, err := env.Engine.Sweep(req.Context(), cfg.Sweep.Policy())
			if err != nil {
				zap.L().Error("sweep failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"archived": archived})
		})

		r.Post("/reprocess", func(w http.ResponseWriter, req *http.Request) {
			// Reprocessing can run for minutes; kick it off and report later
			// through logs, same as the webhook ingest path.
			go func() {
				linked, err := env.Engine.ReprocessUnlinked(ctx)
				if err != nil {
					zap.L().Error("reprocess failed", zap.Error(err))
					return
				}
				zap.L().Info("reprocess complete", zap.Int("linked", linked))
			}()
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		})

		r.Get("/review", func(w http.ResponseWriter, req *http.Request) {
			entries, err := env.Store.ListReview(req.Context(), 100)
			if err != nil {
				zap.L().Error("list review failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			writeJSON(w, http.StatusOK, entries)
		})

		r.Post("/ingest", func(w http.ResponseWriter, req *http.Request) {
			if cfg.Classifier.APIKey == "" {
				writeError(w, http.StatusServiceUnavailable, "classifier not configured")
				return
			}
			var item model.NewsItem
			if err := json.NewDecoder(req.Body).Decode(&item); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if item.ID == "" {
				if item.PublishedAt.IsZero() {
					item.PublishedAt = time.Now().UTC()
				}
				key := item.URL
				if key == "" {
					key = item.Title
				}
				item.ID = model.NewsIDForKey(item.Source, item.PublishedAt, key)
			}
			if err := item.Validate(); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}

			// Classification can take seconds, so the webhook returns
			// immediately and the merge runs against the server context.
			go func() {
				results, err := env.Engine.Ingest(ctx, item)
				if err != nil {
					zap.L().Error("webhook ingest failed",
						zap.String("news_id", item.ID),
						zap.Error(err),
					)
					return
				}
				zap.L().Info("webhook ingest complete",
					zap.String("news_id", item.ID),
					zap.Int("players_linked", len(results)),
				)
			}()

			writeJSON(w, http.StatusAccepted, map[string]string{
				"status":  "accepted",
				"news_id": item.ID,
			})
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go shutdownOnCancel(ctx, srv)

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// shutdownOnCancel drains the server when ctx is cancelled. Shutdown gets its
// own deadline: the signal context is already done at this point and would
// abort in-flight requests instead of letting them finish.
func shutdownOnCancel(ctx context.Context, srv *http.Server) {
	<-ctx.Done()
	zap.L().Info("shutting down server")
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		zap.L().Warn("server shutdown", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
