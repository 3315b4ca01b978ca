// Package paystack is a client for the subset of the Paystack API used for
// subscription billing.
package paystack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mbd888/bakehouse/internal/circuitbreaker"
	"github.com/mbd888/bakehouse/internal/metrics"
)

// Errors
var (
	ErrUnavailable = errors.New("paystack: service unavailable")
	ErrNotFound    = errors.New("paystack: not found")
)

// APIError is a non-2xx response from the processor.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paystack: %d %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

const (
	breakerKey     = "paystack"
	defaultPerPage = 50
)

// Config configures the client.
type Config struct {
	BaseURL     string
	SecretKey   string
	CallbackURL string
	Timeout     time.Duration
}

// Client calls the Paystack REST API. Every request carries a bounded
// timeout; reads are retried on transport errors and 5xx responses.
type Client struct {
	http        *resty.Client
	callbackURL string
	breaker     *circuitbreaker.Breaker
	logger      *slog.Logger
}

// NewClient creates a Paystack client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.SecretKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(retryableRead)

	breaker := circuitbreaker.New(5, 30*time.Second,
		circuitbreaker.WithTransitionHook(func(_ string, from, to circuitbreaker.State) {
			logger.Warn("paystack circuit changed state", "from", from.String(), "to", to.String())
		}))

	return &Client{
		http:        httpClient,
		callbackURL: cfg.CallbackURL,
		breaker:     breaker,
		logger:      logger,
	}
}

// retryableRead retries GETs that failed in transport or with a 5xx.
func retryableRead(r *resty.Response, err error) bool {
	if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
		return false
	}
	return err != nil || r.StatusCode() >= http.StatusInternalServerError
}

// CreateCustomer registers a customer.
func (c *Client) CreateCustomer(ctx context.Context, in CustomerInput) (*Customer, error) {
	out, _, err := call[Customer](ctx, c, "create_customer", c.http.R().SetBody(in), http.MethodPost, "/customer")
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// FindCustomer fetches a customer, including its subscriptions, by email.
// Returns an error matching ErrNotFound when the processor has no record.
func (c *Client) FindCustomer(ctx context.Context, email string) (*Customer, error) {
	out, _, err := call[Customer](ctx, c, "find_customer",
		c.http.R().SetPathParam("email", email), http.MethodGet, "/customer/{email}")
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// InitializeTransaction opens a card-only payment session subscribing the
// customer to a plan.
func (c *Client) InitializeTransaction(ctx context.Context, in TransactionInput) (*Session, error) {
	body := map[string]any{
		"email":        in.Email,
		"amount":       strconv.FormatInt(in.Amount, 10),
		"plan":         in.Plan,
		"reference":    in.Reference,
		"channels":     []string{"card"},
		"callback_url": c.callbackURL,
	}
	out, _, err := call[Session](ctx, c, "initialize_transaction", c.http.R().SetBody(body), http.MethodPost, "/transaction/initialize")
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyTransaction confirms a transaction by reference.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*Transaction, error) {
	out, _, err := call[Transaction](ctx, c, "verify_transaction",
		c.http.R().SetPathParam("reference", reference), http.MethodGet, "/transaction/verify/{reference}")
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSubscription fetches a subscription by code.
func (c *Client) GetSubscription(ctx context.Context, code string) (*Subscription, error) {
	out, _, err := call[Subscription](ctx, c, "get_subscription",
		c.http.R().SetPathParam("code", code), http.MethodGet, "/subscription/{code}")
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DisableSubscription stops a subscription from renewing.
func (c *Client) DisableSubscription(ctx context.Context, code, emailToken string) error {
	body := map[string]string{"code": code, "token": emailToken}
	_, _, err := call[json.RawMessage](ctx, c, "disable_subscription", c.http.R().SetBody(body), http.MethodPost, "/subscription/disable")
	return err
}

// ListPlans fetches one page of plans.
func (c *Client) ListPlans(ctx context.Context, page, perPage int) ([]Plan, *Meta, error) {
	req := c.http.R().SetQueryParams(map[string]string{
		"page":    strconv.Itoa(page),
		"perPage": strconv.Itoa(perPage),
	})
	return call[[]Plan](ctx, c, "list_plans", req, http.MethodGet, "/plan")
}

// ListAllPlans walks every page of the plan list.
func (c *Client) ListAllPlans(ctx context.Context) ([]Plan, error) {
	var all []Plan
	for page := 1; ; page++ {
		plans, meta, err := c.ListPlans(ctx, page, defaultPerPage)
		if err != nil {
			return nil, err
		}
		all = append(all, plans...)
		if len(plans) == 0 {
			return all, nil
		}
		if meta != nil && meta.PageCount > 0 {
			if page >= meta.PageCount {
				return all, nil
			}
			continue
		}
		if len(plans) < defaultPerPage {
			return all, nil
		}
	}
}

// GetPlan fetches a plan by code.
func (c *Client) GetPlan(ctx context.Context, code string) (*Plan, error) {
	out, _, err := call[Plan](ctx, c, "get_plan",
		c.http.R().SetPathParam("code", code), http.MethodGet, "/plan/{code}")
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// BreakerState reports the circuit breaker state guarding processor calls.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.State(breakerKey)
}

// call executes req behind the circuit breaker and decodes the envelope.
func call[T any](ctx context.Context, c *Client, op string, req *resty.Request, method, path string) (T, *Meta, error) {
	var zero T
	done, err := c.breaker.Guard(breakerKey)
	if err != nil {
		metrics.ProcessorRequestsTotal.WithLabelValues(op, "rejected").Inc()
		return zero, nil, fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}

	start := time.Now()
	resp, err := req.SetContext(ctx).Execute(method, path)
	metrics.ProcessorRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		done(true)
		metrics.ProcessorRequestsTotal.WithLabelValues(op, "error").Inc()
		c.logger.Warn("paystack request failed", "operation", op, "error", err)
		return zero, nil, fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}

	var env envelope[T]
	decodeErr := json.Unmarshal(resp.Body(), &env)

	// 4xx means the processor is up and answered; only 5xx counts against it.
	serverErr := resp.StatusCode() >= http.StatusInternalServerError
	done(serverErr)
	if serverErr {
		metrics.ProcessorRequestsTotal.WithLabelValues(op, "server_error").Inc()
		return zero, nil, fmt.Errorf("%s: %w: %w", op, ErrUnavailable, &APIError{StatusCode: resp.StatusCode(), Message: env.Message})
	}

	if resp.IsError() {
		metrics.ProcessorRequestsTotal.WithLabelValues(op, "client_error").Inc()
		c.logger.Warn("paystack rejected request", "operation", op, "status", resp.StatusCode(), "message", env.Message)
		return zero, nil, fmt.Errorf("%s: %w", op, &APIError{StatusCode: resp.StatusCode(), Message: env.Message})
	}
	if decodeErr != nil {
		metrics.ProcessorRequestsTotal.WithLabelValues(op, "decode_error").Inc()
		return zero, nil, fmt.Errorf("%s: decode response: %w", op, decodeErr)
	}
	metrics.ProcessorRequestsTotal.WithLabelValues(op, "ok").Inc()
	return env.Data, env.Meta, nil
}
