// Package dashboard serves the status API: health, stream statistics,
// recent metrics and logs, and the Prometheus exposition.
package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"cryptostream/config"
	"cryptostream/internal/metrics"
	"cryptostream/logger"
	"cryptostream/streams"
)

// StatsSource is implemented by *streams.Streams.
type StatsSource interface {
	Stats() streams.Stats
}

type Server struct {
	cfg           config.DashboardConfig
	appName       string
	log           *logger.Log
	source        StatsSource
	metricStore   *metricStore
	logStore      *logStore
	metricHandler metrics.MetricHandlerID
	httpServer    *http.Server
	listener      net.Listener
	errCh         chan error
}

// NewServer returns nil when the dashboard is disabled.
func NewServer(cfg config.DashboardConfig, appName string, log *logger.Log, source StatsSource) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if source == nil {
		return nil, errors.New("dashboard requires a stats source")
	}

	cfg.Address = normalizeAddress(cfg.Address)

	metricStore := newMetricStore(cfg.MetricsHistory)
	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	return &Server{
		cfg:           cfg,
		appName:       appName,
		log:           log,
		source:        source,
		metricStore:   metricStore,
		logStore:      logStore,
		metricHandler: metrics.RegisterMetricHandler(metricStore.handle),
	}, nil
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	router, err := s.buildRouter()
	if err != nil {
		return err
	}
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: router, ReadHeaderTimeout: 5 * time.Second}
	s.errCh = make(chan error, 1)

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithComponent("dashboard").WithError(err).Error("dashboard server stopped")
			s.errCh <- err
		}
		close(s.errCh)
	}()
	s.log.WithComponent("dashboard").WithField("address", ln.Addr().String()).Info("dashboard listening")
	return nil
}

// Stop shuts the server down gracefully and detaches its stores.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	defer s.cleanup()
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return <-s.errCh
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	s.logStore.close()
}

// Address is the bound address once started, the configured one before.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/healthz", func(c *gin.Context) {
		stats := s.source.Stats()
		status := http.StatusOK
		if len(stats.Groups) == 0 {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"app": s.appName, "groups": len(stats.Groups)})
	})

	router.GET("/api/streams", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.source.Stats())
	})

	router.GET("/api/metrics", func(c *gin.Context) {
		name, exchangeID := c.Query("name"), c.Query("exchange")
		snapshot := s.metricStore.snapshot(func(m metrics.Metric) bool {
			return (name == "" || m.Name == name) && (exchangeID == "" || m.Exchange == exchangeID)
		})
		payload := make([]gin.H, 0, len(snapshot))
		for _, m := range snapshot {
			payload = append(payload, gin.H{
				"timestamp": m.Timestamp.Format(time.RFC3339Nano),
				"component": m.Component,
				"exchange":  m.Exchange,
				"name":      m.Name,
				"value":     m.Value,
				"type":      m.Type,
				"fields":    m.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"metrics": payload})
	})

	router.GET("/api/logs", func(c *gin.Context) {
		level, component := c.Query("level"), c.Query("component")
		records := s.logStore.snapshot(func(r logRecord) bool {
			return (level == "" || r.Level == level) && (component == "" || r.Component == component)
		})
		if n, err := strconv.Atoi(c.Query("limit")); err == nil && n >= 0 && n < len(records) {
			records = records[len(records)-n:]
		}
		c.JSON(http.StatusOK, gin.H{"logs": records})
	})

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return router, nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
