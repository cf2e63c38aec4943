// Package api serves the product catalog as JSON over HTTP.
package api

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"github.com/nci/gomemcache/memcache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/catalog"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/metrics"
)

// Catalog is the read side of the catalog store.
type Catalog interface {
	Projects(ctx context.Context) ([]catalog.Project, error)
	ProjectGeometries(ctx context.Context) (map[string]string, error)
	NdviDataByProject(ctx context.Context, code string) (*catalog.RoiNdviData, error)
}

// Cache stores encoded responses. *memcache.Client satisfies it.
type Cache interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
}

type Server struct {
	Catalog Catalog
	Cache   Cache
	Logger  *zap.Logger
	Metrics *metrics.Collector
	Timeout time.Duration
}

// NewServer connects to memcache lazily when mcURI is set.
func NewServer(cat Catalog, mcURI string, logger *zap.Logger, m *metrics.Collector) *Server {
	s := &Server{Catalog: cat, Logger: logger, Metrics: m, Timeout: 30 * time.Second}
	if mcURI != "" {
		s.Cache = memcache.New(mcURI)
	}
	return s
}

// Spit out a simple JSON-formatted error message for Content-Type: application/json
func httpJSONError(response http.ResponseWriter, err error, status int) {
	http.Error(response, fmt.Sprintf(`{ "error": %q }`, err.Error()), status)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handler)
	if s.Metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) handler(response http.ResponseWriter, request *http.Request) {
	start := time.Now()
	response.Header().Set("Content-Type", "application/json")

	query := request.URL.Query()
	var operation string
	for _, op := range []string{"projects", "geometries", "ndvi"} {
		if _, ok := query[op]; ok {
			operation = op
			break
		}
	}
	if operation == "" {
		httpJSONError(response, errors.New("unknown operation; currently supported: ?projects, ?geometries, ?ndvi&roi=CODE"), http.StatusBadRequest)
		s.Metrics.APIRequest("unknown", http.StatusBadRequest, start)
		return
	}

	buff := md5.Sum([]byte(request.URL.RequestURI()))
	hash := hex.EncodeToString(buff[:])
	if s.Cache != nil {
		if cached, err := s.Cache.Get(hash); err == nil {
			response.Write(cached.Value)
			s.Metrics.APIRequest(operation, http.StatusOK, start)
			return
		}
	}

	ctx := request.Context()
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	var result interface{}
	var err error
	switch operation {
	case "projects":
		result, err = s.Catalog.Projects(ctx)
	case "geometries":
		result, err = s.Catalog.ProjectGeometries(ctx)
	case "ndvi":
		roi := query.Get("roi")
		if roi == "" {
			httpJSONError(response, errors.New("ndvi: missing roi parameter"), http.StatusBadRequest)
			s.Metrics.APIRequest(operation, http.StatusBadRequest, start)
			return
		}
		result, err = s.Catalog.NdviDataByProject(ctx, roi)
	}

	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, catalog.ErrNoData) || errors.Is(err, catalog.ErrNotFound) {
			status = http.StatusNotFound
		}
		s.Logger.Warn("catalog request failed", zap.String("uri", request.URL.RequestURI()), zap.Int("status", status), zap.Error(err))
		httpJSONError(response, err, status)
		s.Metrics.APIRequest(operation, status, start)
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		httpJSONError(response, err, http.StatusInternalServerError)
		s.Metrics.APIRequest(operation, http.StatusInternalServerError, start)
		return
	}
	response.Write(payload)
	s.Metrics.APIRequest(operation, http.StatusOK, start)

	if s.Cache != nil {
		// don't care about errors; memcache may not necessarily retain this anyway
		s.Cache.Set(&memcache.Item{Key: hash, Value: payload})
	}
}

// Listen binds port with SO_REUSEPORT so several API processes can
// share it.
func Listen(port int) (net.Listener, error) {
	return reuseport.Listen("tcp", fmt.Sprintf(":%d", port))
}

// Serve runs until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.Logger.Info("catalog api listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
