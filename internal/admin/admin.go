// Package admin is the operator side-channel: a small gin router, on its
// own port, separate from the client/peer TCP listener, exposing
// Prometheus scraping and a couple of read-only debug endpoints.
//
// Grounded on the teacher's internal/api package (Logger/Recovery
// middleware, gin.New + router.Use) and cmd/server/main.go's /health
// route, repurposed from the client-facing KV API (which the spec
// replaces with the raw TCP protocol) onto ops endpoints instead.
package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"replikv/internal/cluster"
	"replikv/internal/kvstore"
)

// Logger is a gin middleware that logs every request through the node's
// structured logger instead of the stdlib log package the teacher used.
func Logger(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debugw("admin request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

// Recovery wraps gin's panic recovery with a structured log line.
func Recovery(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Errorw("panic recovered in admin handler", "err", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

// Server is the admin HTTP server.
type Server struct {
	httpServer *http.Server
}

// New builds the admin router and binds it to addr. Start actually opens
// the socket.
func New(addr string, store *kvstore.Store, manager *cluster.Manager, log *zap.SugaredLogger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(Logger(log), Recovery(log))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/debug/status", func(c *gin.Context) {
		role, term := manager.Status()
		c.JSON(http.StatusOK, gin.H{
			"node_id":       manager.SelfID(),
			"role":          string(role),
			"election_term": term,
			"keys":          store.Len(),
		})
	})

	router.GET("/debug/peers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"peers": manager.PeersSnapshot()})
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Start runs the admin server in the background. Bind errors are reported
// via errCh rather than a log.Fatal call, so the caller controls exit
// semantics the way the spec's §6 exit-code rules require.
func (s *Server) Start(errCh chan<- error) {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
}

// Shutdown stops the admin server at once, closing its listener and any
// open connections; in-flight requests are not waited for.
func (s *Server) Shutdown() error {
	return s.httpServer.Close()
}
