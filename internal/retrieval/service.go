package retrieval

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/legifetch/internal/metrics"
)

// DefaultRetryBudget is the number of attempts made before giving up on soft failures.
const DefaultRetryBudget = 10

var jsessionPattern = regexp.MustCompile(`;jsessionid=[^?]*\?`)

// CleanURL strips servlet session segments from a resolved URL.
func CleanURL(raw string) string {
	return jsessionPattern.ReplaceAllString(raw, "?")
}

// Config controls the retry loop.
type Config struct {
	RetryBudget int
	Timeout     Timeout
	// Backend names the configured backend in logs and metrics.
	Backend string
}

// RequestDecorator applies session state such as headers and cookies to outgoing requests.
type RequestDecorator interface {
	Decorate(request *Request)
}

// Deps groups the collaborators of a Service.
type Deps struct {
	Backend     Backend
	Invalidator Invalidator
	Detector    SoftFailureDetector
	Operator    Operator
	Session     RequestDecorator
	Cookies     CookieSink
	IDs         IDGenerator
	Logger      *zap.Logger
}

// Service retrieves documents, retrying soft failures after operator acknowledgment.
type Service struct {
	cfg         Config
	backend     Backend
	invalidator Invalidator
	detector    SoftFailureDetector
	operator    Operator
	session     RequestDecorator
	cookies     CookieSink
	ids         IDGenerator
	logger      *zap.Logger
	group       singleflight.Group

	// mu guards the per-key waiter counts and the cancel funcs of running retrievals.
	mu      sync.Mutex
	waiting map[string]int
	cancels map[string]context.CancelFunc
}

// NewService builds a Service. Backend, Detector and Operator are required.
func NewService(cfg Config, deps Deps) (*Service, error) {
	if deps.Backend == nil {
		return nil, errors.New("retrieval backend is required")
	}
	if deps.Detector == nil {
		return nil, errors.New("soft failure detector is required")
	}
	if deps.Operator == nil {
		return nil, errors.New("operator is required")
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = DefaultRetryBudget
	}
	if cfg.Backend == "" {
		cfg.Backend = "unknown"
	}
	if deps.Invalidator == nil {
		deps.Invalidator = NoopInvalidator
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Service{
		cfg:         cfg,
		backend:     deps.Backend,
		invalidator: deps.Invalidator,
		detector:    deps.Detector,
		operator:    deps.Operator,
		session:     deps.Session,
		cookies:     deps.Cookies,
		ids:         deps.IDs,
		logger:      deps.Logger.Named("retrieval"),
		waiting:     make(map[string]int),
		cancels:     make(map[string]context.CancelFunc),
	}, nil
}

// Get retrieves the document for id.
//
// A known non-200 status returns the document together with a *HardFailureError.
// A placeholder page invalidates the cached copy, waits for the operator and retries.
// Once the retry budget is spent an *ExhaustedError is returned.
//
// Concurrent calls for the same identity share one retrieval. A caller whose ctx ends
// returns at once without failing the others; the shared retrieval is canceled only
// when every caller waiting on it has gone.
func (s *Service) Get(ctx context.Context, id Identity) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, fmt.Errorf("retrieve %s: %w", id, err)
	}
	key := id.Key()
	s.join(key)
	ch := s.group.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.start(key, cancel)
		defer s.finish(key, cancel)
		return s.retrieve(rctx, id)
	})
	select {
	case res := <-ch:
		s.leave(key, false)
		if res.Shared {
			s.logger.Debug("Joined in-flight retrieval", zap.String("url", key))
		}
		doc, _ := res.Val.(Document)
		return doc, res.Err
	case <-ctx.Done():
		s.leave(key, true)
		return Document{}, fmt.Errorf("retrieve %s: %w", id, ctx.Err())
	}
}

func (s *Service) join(key string) {
	s.mu.Lock()
	s.waiting[key]++
	s.mu.Unlock()
}

// leave drops one waiter. The last waiter to abandon a running retrieval cancels it.
func (s *Service) leave(key string, abandoned bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiting[key]--
	if s.waiting[key] > 0 {
		return
	}
	delete(s.waiting, key)
	if cancel, ok := s.cancels[key]; ok && abandoned {
		cancel()
	}
}

func (s *Service) start(key string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[key] = cancel
	if s.waiting[key] == 0 {
		cancel()
	}
}

func (s *Service) finish(key string, cancel context.CancelFunc) {
	s.mu.Lock()
	delete(s.cancels, key)
	s.mu.Unlock()
	cancel()
}

func (s *Service) retrieve(ctx context.Context, id Identity) (Document, error) {
	logger := s.logger.With(zap.String("url", id.Key()), zap.String("backend", s.cfg.Backend))
	if s.ids != nil {
		if traceID, err := s.ids.NewID(); err == nil {
			logger = logger.With(zap.String("retrieval_id", traceID))
		}
	}

	var last string
	for attempt := 1; attempt <= s.cfg.RetryBudget; attempt++ {
		if err := ctx.Err(); err != nil {
			return Document{}, fmt.Errorf("retrieve %s: %w", id, err)
		}

		start := time.Now()
		env, err := s.backend.Fetch(ctx, s.newRequest(id, attempt > 1))
		metrics.ObserveFetchDuration(s.cfg.Backend, time.Since(start))
		if err != nil {
			metrics.ObserveAttempt("error")
			return Document{}, fmt.Errorf("fetch %s: %w", id, err)
		}

		doc := Document{FinalURL: CleanURL(env.FinalURL), Body: env.Body, Envelope: env}
		if doc.FinalURL == "" {
			doc.FinalURL = id.Key()
		}

		if env.HasStatus() && env.StatusCode != http.StatusOK {
			metrics.ObserveAttempt("hard_failure")
			logger.Warn("Hard failure", zap.Int("status", env.StatusCode), zap.Int("attempt", attempt))
			return doc, &HardFailureError{Identity: id, StatusCode: env.StatusCode}
		}

		verdict := s.detector.Detect(env.Body)
		if !verdict.Soft {
			metrics.ObserveAttempt("success")
			if s.cookies != nil && len(env.Cookies) > 0 {
				s.cookies.Merge(env.Cookies)
			}
			logger.Debug("Retrieved document",
				zap.Int("attempt", attempt),
				zap.Bool("from_cache", env.FromCache),
				zap.Int("bytes", len(env.Body)),
			)
			return doc, nil
		}

		metrics.ObserveAttempt("soft_failure")
		last = verdict.Message
		if err := s.invalidator.Invalidate(ctx, id); err != nil {
			return Document{}, fmt.Errorf("invalidate %s: %w", id, err)
		}
		logger.Warn("Soft failure",
			zap.Int("attempt", attempt),
			zap.Int("budget", s.cfg.RetryBudget),
			zap.String("message", verdict.Message),
		)
		if attempt == s.cfg.RetryBudget {
			break
		}
		if err := s.operator.Acknowledge(ctx, verdict.Message); err != nil {
			return Document{}, fmt.Errorf("await operator: %w", err)
		}
		metrics.ObserveOperatorAck()
	}

	logger.Error("Retrieval exhausted", zap.Int("attempts", s.cfg.RetryBudget))
	return Document{}, &ExhaustedError{Identity: id, Attempts: s.cfg.RetryBudget, Last: last}
}

// newRequest builds the request for one attempt. Retries bypass the cache.
func (s *Service) newRequest(id Identity, retry bool) Request {
	req := NewGetRequest(id)
	req.Timeout = s.cfg.Timeout
	req.Refresh = retry
	if s.session != nil {
		s.session.Decorate(&req)
	}
	return req
}
