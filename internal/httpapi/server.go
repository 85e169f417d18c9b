// Package httpapi serves the tunnel-facing HTTP API. It binds on an
// address reachable only through the managed interface, so the source
// address of every request is a tunnel address and identifies the caller's
// config.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/gin-gonic/gin"

	"wgkeeper/internal/pairing"
	"wgkeeper/internal/service"
)

// Server is the HTTP frontend over the service layer.
type Server struct {
	svc  *service.Service
	addr string
}

func New(svc *service.Service, addr string) *Server {
	return &Server{svc: svc, addr: addr}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Handler()}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

// Handler builds the route table; tests mount it directly.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/status", s.status)
	r.GET("/settings", s.getSettings)
	r.PUT("/settings", s.putSettings)
	r.GET("/pair", s.pair)
	r.POST("/client", s.newClient)
	return r
}

type statusResponse struct {
	Endpoint  string `json:"endpoint"`
	PublicKey string `json:"public_key"`
}

func (s *Server) status(c *gin.Context) {
	info := s.svc.ServerInfo()
	c.JSON(http.StatusOK, statusResponse{Endpoint: info.Endpoint, PublicKey: info.PublicKey})
}

type settingsBody struct {
	DoubleVPN bool `json:"double_vpn"`
}

func (s *Server) getSettings(c *gin.Context) {
	ip, ok := callerIP(c)
	if !ok {
		return
	}
	enabled, err := s.svc.DoubleVPN(c.Request.Context(), ip)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, settingsBody{DoubleVPN: enabled})
}

func (s *Server) putSettings(c *gin.Context) {
	ip, ok := callerIP(c)
	if !ok {
		return
	}
	var body settingsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if err := s.svc.ChangeSettings(c.Request.Context(), ip, body.DoubleVPN); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) pair(c *gin.Context) {
	ip, ok := callerIP(c)
	if !ok {
		return
	}
	code, err := s.svc.PairCode(ip)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": code})
}

type newClientBody struct {
	Name      string `json:"name"`
	PublicKey string `json:"public_key"`
}

// newClient creates a new config owned by the caller and returns the
// rendered client config file.
func (s *Server) newClient(c *gin.Context) {
	ip, ok := callerIP(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	user, err := s.svc.UserByIP(ctx, ip)
	if err != nil {
		fail(c, err)
		return
	}

	var body newClientBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	id, err := s.svc.NewConfig(ctx, user, body.Name, body.PublicKey)
	if err != nil {
		fail(c, err)
		return
	}
	full, err := s.svc.Config(ctx, user, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.String(http.StatusCreated, s.svc.RenderConfig(full.Config))
}

// callerIP extracts the tunnel address from the connection's source.
// Proxy headers are deliberately ignored.
func callerIP(c *gin.Context) (netip.Addr, bool) {
	ap, err := netip.ParseAddrPort(c.Request.RemoteAddr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot determine caller address"})
		return netip.Addr{}, false
	}
	return ap.Addr().Unmap(), true
}

// fail maps service errors onto HTTP statuses.
func fail(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrAccessDenied):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrInvalidKey), errors.Is(err, pairing.ErrInvalidToken):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrClientAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, service.ErrIPPoolExhausted):
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
		slog.Error("request failed", "path", c.Request.URL.Path, "err", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
