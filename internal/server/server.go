package server

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copyleftdev/stratopt/internal/config"
	"github.com/copyleftdev/stratopt/internal/errors"
	"github.com/copyleftdev/stratopt/internal/jobfile"
	"github.com/copyleftdev/stratopt/internal/logging"
	"github.com/copyleftdev/stratopt/internal/optimization"
	"github.com/copyleftdev/stratopt/internal/optimization/engine"
	"github.com/copyleftdev/stratopt/internal/optimization/objective"
)

const maxJobBodyBytes = 1 << 20

var (
	errJobNotFound    = stderrors.New("optimization not found")
	errTooManyJobs    = stderrors.New("too many concurrent optimizations")
	errJobFinished    = stderrors.New("optimization already finished")
	errJobNotFinished = stderrors.New("optimization has not finished")
)

// Server implements the HTTP and JSON-RPC server for the optimization service.
// It manages optimization jobs and provides endpoints to start, monitor,
// cancel and collect them.
type Server struct {
	cfg        *config.Config
	logger     *zap.Logger
	backtester optimization.Backtester
	registry   *objective.Registry
	metrics    *engine.Metrics

	// slots bounds the number of jobs running at once.
	slots chan struct{}
	wg    sync.WaitGroup

	jobsMu sync.RWMutex
	jobs   map[string]*job
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry sets the objective registry used by every job.
func WithRegistry(r *objective.Registry) Option {
	return func(s *Server) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithEngineMetrics shares m between the engines of every job.
func WithEngineMetrics(m *engine.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// NewServer creates a server that evaluates jobs with backtester.
func NewServer(cfg *config.Config, logger *zap.Logger, backtester optimization.Backtester, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:        cfg,
		logger:     logger.Named("server"),
		backtester: backtester,
		registry:   objective.DefaultRegistry(),
		slots:      make(chan struct{}, cfg.Optimization.MaxConcurrentJobs),
		jobs:       make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRoutes mounts the REST API and the JSON-RPC endpoint on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/optimize", s.handleOptimize)
		r.Get("/status/{id}", s.handleStatus)
		r.Get("/result/{id}", s.handleResult)
		r.Delete("/optimization/{id}", s.handleCancel)
		r.Get("/objectives", s.handleObjectives)
	})

	r.Post("/rpc", s.handleJSONRPC)
}

// Submit validates job and starts it in the background. Invalid jobs are
// rejected with a ConfigurationError before anything runs.
func (s *Server) Submit(spec *jobfile.Job) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	space, err := spec.Space()
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	logger := s.logger.With(zap.String("optimization_id", id), zap.String("strategy", spec.Strategy.Name))
	eng := engine.New(s.backtester,
		engine.WithLogger(logger),
		engine.WithMetrics(s.metrics),
		engine.WithRegistry(s.registry),
		engine.WithDefaultSeed(s.cfg.Optimization.DefaultSeed),
		engine.WithMaxCombinations(s.cfg.Optimization.MaxGridCombination),
		engine.WithTrialTimeout(s.cfg.Optimization.TrialTimeout),
	)
	if err := eng.Validate(space, spec.Strategy, spec.Optimization); err != nil {
		return "", err
	}

	select {
	case s.slots <- struct{}{}:
	default:
		return "", errTooManyJobs
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		id:          id,
		strategy:    spec.Strategy.Name,
		cfg:         spec.Optimization,
		engine:      eng,
		cancel:      cancel,
		done:        make(chan struct{}),
		submittedAt: time.Now(),
	}

	s.jobsMu.Lock()
	s.jobs[id] = j
	s.jobsMu.Unlock()

	s.wg.Add(1)
	go s.run(ctx, j, space, spec.Strategy)

	logger.Info("Optimization submitted",
		zap.String("algorithm", string(spec.Optimization.Algorithm)),
		zap.String("objective", spec.Optimization.ObjectiveFunction),
		zap.Int("cardinality", space.Cardinality()),
	)
	return id, nil
}

func (s *Server) run(ctx context.Context, j *job, space *optimization.ParameterSpace, base optimization.StrategyConfig) {
	defer s.wg.Done()
	defer close(j.done)
	defer func() { <-s.slots }()
	defer j.cancel()

	result, err := j.engine.Optimize(ctx, space, base, j.cfg)

	now := time.Now()
	s.jobsMu.Lock()
	j.result = result
	j.err = err
	j.finishedAt = &now
	s.jobsMu.Unlock()
}

// Status returns a snapshot of the job with the given id.
func (s *Server) Status(id string) (*JobStatus, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errJobNotFound, id)
	}
	return j.status(), nil
}

// Result returns the compiled result of a finished job.
func (s *Server) Result(id string) (*optimization.OptimizationResult, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errJobNotFound, id)
	}
	if j.finishedAt == nil {
		return nil, fmt.Errorf("%w: %s is %s", errJobNotFinished, id, j.engine.State())
	}
	if j.err != nil {
		return nil, j.err
	}
	return j.result, nil
}

// Cancel asks a job to stop at the next trial boundary. The job finishes as
// Interrupted with the trials completed so far.
func (s *Server) Cancel(id string) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", errJobNotFound, id)
	}
	if j.finishedAt != nil {
		return fmt.Errorf("%w: %s is %s", errJobFinished, id, j.engine.State())
	}
	if !j.cancelRequested {
		j.cancelRequested = true
		j.engine.Stop()
		s.logger.Info("Optimization cancellation requested", zap.String("optimization_id", id))
	}
	return nil
}

// Wait blocks until the job has finished or ctx is done.
func (s *Server) Wait(ctx context.Context, id string) error {
	s.jobsMu.RLock()
	j, ok := s.jobs[id]
	s.jobsMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", errJobNotFound, id)
	}

	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close interrupts every running job and waits for them to finish.
func (s *Server) Close() error {
	s.jobsMu.RLock()
	for _, j := range s.jobs {
		j.engine.Stop()
		j.cancel()
	}
	s.jobsMu.RUnlock()

	s.wg.Wait()
	return nil
}

// handleOptimize handles POST /api/v1/optimize. The body is a job
// definition in JSON, or in YAML when sent as application/yaml.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	job, err := decodeJob(r)
	if err != nil {
		s.respondWithJSONError(w, r, err)
		return
	}

	id, err := s.Submit(job)
	if err != nil {
		s.respondWithJSONError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusAccepted, map[string]string{
		"optimization_id": id,
		"status":          "pending",
	})
}

// handleStatus handles GET /api/v1/status/{id}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.Status(chi.URLParam(r, "id"))
	if err != nil {
		s.respondWithJSONError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

// handleResult handles GET /api/v1/result/{id}.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.Result(chi.URLParam(r, "id"))
	if err != nil {
		s.respondWithJSONError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// handleCancel handles DELETE /api/v1/optimization/{id}.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.Cancel(chi.URLParam(r, "id")); err != nil {
		s.respondWithJSONError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{
		"status": "cancellation requested",
	})
}

// handleObjectives handles GET /api/v1/objectives.
func (s *Server) handleObjectives(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string][]string{
		"objectives": s.registry.Names(),
	})
}

func decodeJob(r *http.Request) (*jobfile.Job, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJobBodyBytes))
	if err != nil {
		return nil, errors.Wrap(errors.KindConfiguration, err, "read request body")
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/yaml", "application/x-yaml", "text/yaml":
		return jobfile.Parse(body)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	var job jobfile.Job
	if err := dec.Decode(&job); err != nil {
		return nil, errors.Wrap(errors.KindConfiguration, err, "invalid request body")
	}
	return &job, nil
}

// httpStatus maps an error to the status code of its response.
func httpStatus(err error) int {
	switch {
	case stderrors.Is(err, errJobNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, errTooManyJobs):
		return http.StatusTooManyRequests
	case stderrors.Is(err, errJobFinished), stderrors.Is(err, errJobNotFinished):
		return http.StatusConflict
	}

	switch errors.KindOf(err) {
	case errors.KindConfiguration:
		return http.StatusBadRequest
	case errors.KindData:
		return http.StatusUnprocessableEntity
	case errors.KindBacktest:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondWithJSONError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	body := map[string]any{"error": err.Error()}
	if kind := errors.KindOf(err); kind != errors.KindUnknown {
		body["kind"] = kind
	}

	logger := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", zap.Int("status", status), zap.Error(err))
	} else {
		logger.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	}

	respondWithJSON(w, status, body)
}

func respondWithJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
