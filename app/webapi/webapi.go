// Package webapi provides the REST server for comment validation and
// moderation. It exposes a check endpoint running the validator chain,
// plus management endpoints for blacklists, banned addresses and stored
// comment decisions.
package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/routegroup"

	"github.com/commentguard/comment-guard/app/storage"
	"github.com/commentguard/comment-guard/lib/comment"
	"github.com/commentguard/comment-guard/lib/validator"
)

// Detector is a subset of the validator engine used by the server.
type Detector interface {
	Validate(ctx context.Context, cmt *comment.Comment, req comment.Request) (comment.Result, []comment.CheckResult, error)
	Names() []string
}

// BlacklistStore manages named weighted phrase lists.
type BlacklistStore interface {
	Create(ctx context.Context, name string, weight float64) error
	SetWeight(ctx context.Context, name string, weight float64) error
	AddPhrases(ctx context.Context, name string, phrases ...string) error
	DeletePhrase(ctx context.Context, name, phrase string) error
	Delete(ctx context.Context, name string) error
	All(ctx context.Context) ([]validator.Blacklist, error)
}

// BannedIPStore manages the set of banned addresses.
type BannedIPStore interface {
	Add(ctx context.Context, ip string) (bool, error)
	Remove(ctx context.Context, ip string) error
	All(ctx context.Context) ([]storage.BannedIP, error)
}

// CommentStore records decisions and serves moderation actions.
type CommentStore interface {
	Save(ctx context.Context, cmt comment.Comment, res comment.Result, checks []comment.CheckResult) (int64, error)
	Recent(ctx context.Context, limit int) ([]storage.CommentRecord, error)
	MarkPublic(ctx context.Context, ids []int64) (int64, error)
	MarkNotPublic(ctx context.Context, ids []int64) (int64, error)
	MarkRemoved(ctx context.Context, ids []int64) (int64, error)
	MarkNotRemoved(ctx context.Context, ids []int64) (int64, error)
	Delete(ctx context.Context, ids []int64) (int64, error)
	BanIPs(ctx context.Context, ids []int64, banner storage.IPBanner) (added, existing int, err error)
}

// Server is a web API server for comment validation and moderation.
type Server struct {
	Config
}

// Config defines server parameters and dependencies.
type Config struct {
	Version    string
	ListenAddr string
	AuthPasswd string // basic auth password for "admin" user, disabled if empty

	Detector   Detector
	Blacklists BlacklistStore
	BannedIPs  BannedIPStore
	Comments   CommentStore
}

// NewServer makes a new server with the given config.
func NewServer(config Config) *Server {
	return &Server{Config: config}
}

// Run starts the server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	router := routegroup.New(http.NewServeMux())
	router.Use(rest.Recoverer(lgr.Default()))
	router.Use(rest.AppInfo("comment-guard", "commentguard", s.Version), rest.Ping)
	router.Use(tollbooth.HTTPMiddleware(tollbooth.NewLimiter(50, nil)))
	router.Use(rest.SizeLimit(1024 * 1024)) // 1M max request size

	if s.AuthPasswd != "" {
		log.Printf("[INFO] basic auth enabled for webapi server")
		router.Use(rest.BasicAuthWithPrompt("admin", s.AuthPasswd))
	} else {
		log.Printf("[WARN] basic auth disabled, access to webapi is not protected")
	}

	s.routes(router)

	srv := &http.Server{Addr: s.ListenAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second, WriteTimeout: 60 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown webapi server: %v", err)
		} else {
			log.Printf("[INFO] webapi server stopped")
		}
	}()

	log.Printf("[INFO] start webapi server on %s", s.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to run server: %w", err)
	}
	return nil
}

func (s *Server) routes(router *routegroup.Bundle) {
	router.HandleFunc("POST /check", s.checkHandler)
	router.HandleFunc("GET /validators", s.validatorsHandler)

	router.Mount("/blacklists").Route(func(b *routegroup.Bundle) {
		b.HandleFunc("GET /", s.getBlacklistsHandler)
		b.HandleFunc("POST /", s.createBlacklistHandler)
		b.HandleFunc("PUT /{name}", s.setBlacklistWeightHandler)
		b.HandleFunc("DELETE /{name}", s.deleteBlacklistHandler)
		b.HandleFunc("POST /{name}/phrases", s.addPhrasesHandler)
		b.HandleFunc("DELETE /{name}/phrases", s.deletePhraseHandler)
	})

	router.Mount("/ips").Route(func(b *routegroup.Bundle) {
		b.HandleFunc("GET /", s.getBannedIPsHandler)
		b.HandleFunc("POST /", s.banIPHandler)
		b.HandleFunc("DELETE /{ip}", s.unbanIPHandler)
	})

	router.Mount("/comments").Route(func(b *routegroup.Bundle) {
		b.HandleFunc("GET /", s.getCommentsHandler)
		b.HandleFunc("POST /public", s.batchHandler("public", s.Comments.MarkPublic))
		b.HandleFunc("POST /unpublic", s.batchHandler("unpublic", s.Comments.MarkNotPublic))
		b.HandleFunc("POST /remove", s.batchHandler("remove", s.Comments.MarkRemoved))
		b.HandleFunc("POST /restore", s.batchHandler("restore", s.Comments.MarkNotRemoved))
		b.HandleFunc("POST /delete", s.batchHandler("delete", s.Comments.Delete))
		b.HandleFunc("POST /ban", s.banCommentIPsHandler)
	})
}

// checkHandler runs the validator chain on the posted comment, records the
// decision and returns it with per-check scores.
func (s *Server) checkHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AuthorName  string `json:"author_name"`
		AuthorEmail string `json:"author_email"`
		AuthorURL   string `json:"author_url"`
		IPAddress   string `json:"ip_address"`
		Body        string `json:"body"`
		UserAgent   string `json:"user_agent"`
		Referer     string `json:"referer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "can't decode request", "details": err.Error()})
		return
	}

	cmt := comment.Comment{
		AuthorName:  req.AuthorName,
		AuthorEmail: req.AuthorEmail,
		AuthorURL:   req.AuthorURL,
		IPAddress:   req.IPAddress,
		Body:        req.Body,
		IsPublic:    true,
	}
	res, checks, err := s.Detector.Validate(r.Context(), &cmt, comment.Request{UserAgent: req.UserAgent, Referer: req.Referer})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		rest.RenderJSON(w, rest.JSON{"error": "failed to validate comment", "details": err.Error()})
		return
	}

	id, err := s.Comments.Save(r.Context(), cmt, res, checks)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		rest.RenderJSON(w, rest.JSON{"error": "failed to save comment", "details": err.Error()})
		return
	}

	rest.RenderJSON(w, rest.JSON{
		"id":       id,
		"accepted": res.Accepted,
		"public":   res.IsPublic,
		"score":    res.Total,
		"checks":   checks,
	})
}

// validatorsHandler returns the names of the active validators, in chain order.
func (s *Server) validatorsHandler(w http.ResponseWriter, _ *http.Request) {
	rest.RenderJSON(w, rest.JSON{"validators": s.Detector.Names()})
}

func (s *Server) getBlacklistsHandler(w http.ResponseWriter, r *http.Request) {
	lists, err := s.Blacklists.All(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		rest.RenderJSON(w, rest.JSON{"error": "failed to get blacklists", "details": err.Error()})
		return
	}
	rest.RenderJSON(w, rest.JSON{"blacklists": lists})
}

func (s *Server) createBlacklistHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string  `json:"name"`
		Weight float64 `json:"weight"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "can't decode request", "details": err.Error()})
		return
	}
	if req.Weight == 0 {
		req.Weight = 1.0
	}
	if err := s.Blacklists.Create(r.Context(), req.Name, req.Weight); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "failed to create blacklist", "details": err.Error()})
		return
	}
	rest.RenderJSON(w, rest.JSON{"created": true, "name": req.Name, "weight": req.Weight})
}

func (s *Server) setBlacklistWeightHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req struct {
		Weight float64 `json:"weight"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "can't decode request", "details": err.Error()})
		return
	}
	if err := s.Blacklists.SetWeight(r.Context(), name, req.Weight); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "failed to set weight", "details": err.Error()})
		return
	}
	rest.RenderJSON(w, rest.JSON{"updated": true, "name": name, "weight": req.Weight})
}

func (s *Server) deleteBlacklistHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.Blacklists.Delete(r.Context(), name); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "failed to delete blacklist", "details": err.Error()})
		return
	}
	rest.RenderJSON(w, rest.JSON{"deleted": true, "name": name})
}

func (s *Server) addPhrasesHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req struct {
		Phrases []string `json:"phrases"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "can't decode request", "details": err.Error()})
		return
	}
	if err := s.Blacklists.AddPhrases(r.Context(), name, req.Phrases...); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "failed to add phrases", "details": err.Error()})
		return
	}
	rest.RenderJSON(w, rest.JSON{"added": true, "name": name, "count": len(req.Phrases)})
}

func (s *Server) deletePhraseHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req struct {
		Phrase string `json:"phrase"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "can't decode request", "details": err.Error()})
		return
	}
	if err := s.Blacklists.DeletePhrase(r.Context(), name, req.Phrase); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "failed to delete phrase", "details": err.Error()})
		return
	}
	rest.RenderJSON(w, rest.JSON{"deleted": true, "name": name, "phrase": req.Phrase})
}

func (s *Server) getBannedIPsHandler(w http.ResponseWriter, r *http.Request) {
	ips, err := s.BannedIPs.All(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		rest.RenderJSON(w, rest.JSON{"error": "failed to get banned ips", "details": err.Error()})
		return
	}
	rest.RenderJSON(w, rest.JSON{"ips": ips})
}

func (s *Server) banIPHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "can't decode request", "details": err.Error()})
		return
	}
	created, err := s.BannedIPs.Add(r.Context(), req.IP)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "failed to ban ip", "details": err.Error()})
		return
	}
	rest.RenderJSON(w, rest.JSON{"banned": true, "ip": req.IP, "created": created})
}

func (s *Server) unbanIPHandler(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	if err := s.BannedIPs.Remove(r.Context(), ip); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "failed to unban ip", "details": err.Error()})
		return
	}
	rest.RenderJSON(w, rest.JSON{"unbanned": true, "ip": ip})
}

func (s *Server) getCommentsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &limit); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			rest.RenderJSON(w, rest.JSON{"error": "bad limit", "details": err.Error()})
			return
		}
	}
	comments, err := s.Comments.Recent(r.Context(), limit)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		rest.RenderJSON(w, rest.JSON{"error": "failed to get comments", "details": err.Error()})
		return
	}
	rest.RenderJSON(w, rest.JSON{"comments": comments})
}

// batchHandler applies a bulk action to a list of comment ids.
func (s *Server) batchHandler(action string, fn func(ctx context.Context, ids []int64) (int64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, ok := decodeIDs(w, r)
		if !ok {
			return
		}
		n, err := fn(r.Context(), ids)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			rest.RenderJSON(w, rest.JSON{"error": "failed to " + action + " comments", "details": err.Error()})
			return
		}
		log.Printf("[INFO] %s applied to %d comments", action, n)
		rest.RenderJSON(w, rest.JSON{"action": action, "updated": n})
	}
}

func (s *Server) banCommentIPsHandler(w http.ResponseWriter, r *http.Request) {
	ids, ok := decodeIDs(w, r)
	if !ok {
		return
	}
	added, existing, err := s.Comments.BanIPs(r.Context(), ids, s.BannedIPs)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		rest.RenderJSON(w, rest.JSON{"error": "failed to ban addresses", "details": err.Error()})
		return
	}
	log.Printf("[INFO] banned %d new addresses, %d already banned", added, existing)
	rest.RenderJSON(w, rest.JSON{"added": added, "existing": existing})
}

func decodeIDs(w http.ResponseWriter, r *http.Request) ([]int64, bool) {
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "can't decode request", "details": err.Error()})
		return nil, false
	}
	if len(req.IDs) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "no ids provided"})
		return nil, false
	}
	return req.IDs, true
}
