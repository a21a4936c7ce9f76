package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"noirvrs/internal/domain"
)

// DefaultTimeout bounds one remote generation call.
const DefaultTimeout = 90 * time.Second

const maxResponseBytes = 32 << 20

// HTTPOptions configures an HTTPAdapter.
type HTTPOptions struct {
	Endpoint   string
	HTTPClient *http.Client
	Session    SessionProvider
	Timeout    time.Duration
	Logger     zerolog.Logger
}

// HTTPAdapter calls a remote generateCase endpoint.
type HTTPAdapter struct {
	endpoint   string
	httpClient *http.Client
	session    SessionProvider
	logger     zerolog.Logger
}

func NewHTTPAdapter(opts HTTPOptions) (*HTTPAdapter, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, errors.New("backend: endpoint is required")
	}
	if opts.Session == nil {
		return nil, errors.New("backend: session provider is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if client.Timeout == 0 {
		c := *client
		c.Timeout = timeout
		client = &c
	}
	return &HTTPAdapter{
		endpoint:   endpoint,
		httpClient: client,
		session:    opts.Session,
		logger:     opts.Logger,
	}, nil
}

// Generate posts the nonce and returns a validated payload. The endpoint
// answers with resolved images, so any empty slot is settled as failed
// before Generate returns.
func (a *HTTPAdapter) Generate(ctx context.Context, req Request, resolve ImageResolver) (*Payload, error) {
	token, err := a.session.Token(ctx)
	if err != nil {
		return nil, domain.AsFailure(err)
	}

	body, err := json.Marshal(GenerateCaseRequest{Nonce: req.Nonce, ResumeCaseID: req.ResumeCaseID})
	if err != nil {
		return nil, fmt.Errorf("backend: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("backend: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Idempotency-Key", req.Nonce)
	if req.Locale != "" {
		httpReq.Header.Set("Accept-Language", req.Locale)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, a.transportFailure(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		a.logger.Warn().
			Int("status", resp.StatusCode).
			Str("nonce", req.Nonce).
			Str("body", strings.TrimSpace(string(snippet))).
			Msg("backend: generateCase rejected")
		return nil, domain.Failf(statusClass(resp.StatusCode), "backend: status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, a.transportFailure(ctx, err)
	}
	decoded, err := DecodeResponse(raw)
	if err != nil {
		a.logger.Warn().Err(err).Str("nonce", req.Nonce).Msg("backend: invalid generateCase response")
		return nil, err
	}

	payload := decoded.Payload()
	a.logger.Debug().Str("case_id", payload.CaseID).Str("nonce", req.Nonce).Msg("backend: generateCase ok")

	if resolve != nil {
		for i, ref := range payload.Images {
			if ref == "" && ctx.Err() == nil {
				resolve(i, "", domain.ErrPanelMissing)
			}
		}
	}
	return payload, nil
}

func (a *HTTPAdapter) transportFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		return domain.NewFailure(domain.Classify(cause), fmt.Errorf("backend: %w", cause))
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.NewFailure(domain.FailureTimeout, err)
	}
	return domain.NewFailure(domain.FailureServerError, err)
}

func statusClass(code int) domain.FailureClass {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.FailureAuthRequired
	case http.StatusPaymentRequired:
		return domain.FailureNoCredits
	case http.StatusNotFound:
		return domain.FailureEndpointNotFound
	case http.StatusConflict:
		return domain.FailureRequestConflict
	case http.StatusTooManyRequests:
		return domain.FailureRateLimited
	default:
		return domain.FailureServerError
	}
}
