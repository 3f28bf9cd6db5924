package seeder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/telhawk-systems/eventgate/internal/logging"
	"github.com/telhawk-systems/eventgate/internal/service"
)

var ErrInvalidConfig = errors.New("invalid seeder config")

// Config controls a seeding run.
type Config struct {
	URL            string
	Channel        string
	Count          int
	DuplicateRatio float64
	Interval       time.Duration
	Seed           int64
}

func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}
	if _, err := service.PolicyFor(c.Channel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Count <= 0 {
		return fmt.Errorf("%w: count must be > 0, got %d", ErrInvalidConfig, c.Count)
	}
	if c.DuplicateRatio < 0 || c.DuplicateRatio > 1 {
		return fmt.Errorf("%w: duplicate ratio must be within [0,1], got %v", ErrInvalidConfig, c.DuplicateRatio)
	}
	return nil
}

// Summary counts responses by class.
type Summary struct {
	Sent        int `json:"sent" yaml:"sent"`
	Accepted    int `json:"accepted" yaml:"accepted"`
	RateLimited int `json:"rate_limited" yaml:"rate_limited"`
	Rejected    int `json:"rejected" yaml:"rejected"`
	Failed      int `json:"failed" yaml:"failed"`
	Duplicates  int `json:"duplicates" yaml:"duplicates"`
}

// Runner posts generated events one at a time.
type Runner struct {
	Config     Config
	HTTPClient *http.Client
	logger     *logging.Logger
}

func NewRunner(cfg Config, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.Default()
	}
	return &Runner{
		Config: cfg,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func endpoint(baseURL, channel string) string {
	path := "/api/v1/subscriptions"
	if channel == service.ChannelSample {
		path = "/api/v1/samples"
	}
	return strings.TrimRight(baseURL, "/") + path
}

// Run sends Config.Count events. Transport errors are counted, not returned;
// only configuration problems and context cancellation abort the run.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	if err := r.Config.Validate(); err != nil {
		return nil, err
	}

	gen := NewGenerator(r.Config.Channel, r.Config.Seed)
	url := endpoint(r.Config.URL, r.Config.Channel)
	summary := &Summary{}

	r.logger.Info("starting seeder",
		"url", url,
		"count", r.Config.Count,
		"duplicate_ratio", r.Config.DuplicateRatio,
	)

	for i := 0; i < r.Config.Count; i++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		event, duplicate := gen.Next(r.Config.DuplicateRatio)
		if duplicate {
			summary.Duplicates++
		}

		status, err := r.post(ctx, url, event)
		summary.Sent++
		switch {
		case err != nil:
			summary.Failed++
			r.logger.Warn("failed to send event", logging.EventID(event.EventID), logging.Error(err))
		case status == http.StatusAccepted:
			summary.Accepted++
		case status == http.StatusTooManyRequests:
			summary.RateLimited++
		case status >= 400 && status < 500:
			summary.Rejected++
		default:
			summary.Failed++
		}

		if r.Config.Interval > 0 && i < r.Config.Count-1 {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			case <-time.After(r.Config.Interval):
			}
		}
	}

	r.logger.Info("seeding complete",
		"accepted", summary.Accepted,
		"rate_limited", summary.RateLimited,
		"rejected", summary.Rejected,
		"failed", summary.Failed,
		"duplicates", summary.Duplicates,
	)
	return summary, nil
}

func (r *Runner) post(ctx context.Context, url string, event interface{}) (int, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}
