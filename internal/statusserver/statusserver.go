// Package statusserver exposes a small REST surface over a device.Registry
// so external tooling can observe connection state and issue shell commands
// without speaking the ADB wire protocol directly. The route layout and
// graceful-shutdown sequencing mirror the teacher's own REST API server
// (cmd/driver/hasher-host/main.go's runAPIServer), trimmed down to the
// handful of endpoints the ADB client domain actually needs.
package statusserver

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/gin-gonic/gin"

	"github.com/shangdawei/go-adb-client/internal/adberr"
	"github.com/shangdawei/go-adb-client/internal/device"
	"github.com/shangdawei/go-adb-client/internal/shell"
)

// Registry is the subset of a device table the server needs: look a device
// up by serial, or list every serial currently tracked. cmd/adb-server owns
// the concrete registry and satisfies this interface directly.
type Registry interface {
	Get(serial string) (*device.Device, bool)
	Serials() []string
}

// Server wraps an http.Server bound to a gin router.
type Server struct {
	reg Registry
	srv *http.Server
}

// New builds a Server listening on addr. Call Run to start it.
func New(addr string, reg Registry) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{reg: reg}

	api := router.Group("/api/v1")
	{
		api.GET("/devices", s.handleListDevices)
		api.GET("/devices/:serial", s.handleGetDevice)
		api.POST("/devices/:serial/shell", s.handleShell)
	}

	s.srv = &http.Server{
		Addr:    addr,
		Handler: router,
	}
	return s
}

// Run starts serving and blocks until ctx is cancelled, then shuts down with
// a bounded grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

func (s *Server) handleListDevices(c *gin.Context) {
	serials := s.reg.Serials()
	devices := make([]gin.H, 0, len(serials))
	for _, serial := range serials {
		dev, ok := s.reg.Get(serial)
		if !ok {
			continue
		}
		devices = append(devices, gin.H{
			"serial": serial,
			"state":  dev.State().String(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (s *Server) handleGetDevice(c *gin.Context) {
	serial := c.Param("serial")
	dev, ok := s.reg.Get(serial)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown device: " + serial})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"serial": serial,
		"state":  dev.State().String(),
	})
}

type shellRequest struct {
	Command string `json:"command" binding:"required"`
}

func (s *Server) handleShell(c *gin.Context) {
	serial := c.Param("serial")
	dev, ok := s.reg.Get(serial)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown device: " + serial})
		return
	}

	var req shellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	out, err := shell.Run(dev, req.Command, false)
	if err != nil {
		status := http.StatusInternalServerError
		if adberr.Of(err) == adberr.KindStreamRefused {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	// Shell tools on-device (ls --color, logcat) often emit ANSI color
	// codes; strip them so JSON clients get plain text.
	c.JSON(http.StatusOK, gin.H{"output": ansi.Strip(out)})
}
