package awscloud

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

const (
	defaultMaxAttempts    = 3
	defaultRetryDelay     = 500 * time.Millisecond
	defaultConnectTimeout = 5 * time.Second
	defaultRequestTimeout = 10 * time.Second
)

// Typed rejections for a credential check. Only ErrNetworkTimeout and
// ErrProviderUnavailable are transient; the rest are permanent and never
// retried.
var (
	ErrInvalidCredentials  = errors.New("awscloud: invalid credentials")
	ErrAccessDenied        = errors.New("awscloud: access denied")
	ErrCredentialsExpired  = errors.New("awscloud: credentials expired")
	ErrNetworkTimeout      = errors.New("awscloud: network timeout")
	ErrProviderUnavailable = errors.New("awscloud: provider unavailable")
)

var errMissingRegion = errors.New("awscloud: region required")

// CallerIdentity is the canonical identity tuple reported by STS for a valid
// credential pair. It, not the caller-supplied input, is the source of truth
// for what got linked.
type CallerIdentity struct {
	Account string `json:"account"`
	UserID  string `json:"user_id"`
	ARN     string `json:"arn"`
}

// CallerIdentityAPI is the slice of the STS client used by the validator.
type CallerIdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// ClientFactory builds an STS client scoped to one candidate credential pair.
type ClientFactory func(ctx context.Context, accessKeyID, secretAccessKey string) (CallerIdentityAPI, error)

// ValidatorConfig configures the credential validator.
type ValidatorConfig struct {
	Region         string
	ClientFactory  ClientFactory
	MaxAttempts    int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Validator checks candidate AWS credential pairs against STS
// GetCallerIdentity. The call is read-only on the provider side, so it is safe
// to repeat. Retries are owned here, not by the SDK, so permanent rejections
// cost exactly one round trip.
type Validator struct {
	factory        ClientFactory
	maxAttempts    int
	retryDelay     time.Duration
	requestTimeout time.Duration
	logger         *zap.Logger
}

// NewValidator constructs a validator with validated configuration.
func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	factory := cfg.ClientFactory
	if factory == nil {
		if cfg.Region == "" {
			return nil, errMissingRegion
		}
		factory = newSTSClientFactory(cfg.Region)
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Validator{
		factory:        factory,
		maxAttempts:    maxAttempts,
		retryDelay:     retryDelay,
		requestTimeout: requestTimeout,
		logger:         logger,
	}, nil
}

// TestCredentials validates the candidate pair and returns the canonical
// identity STS reports for it. Transient transport failures are retried up to
// the configured attempt budget; authentication rejections are returned
// immediately.
func (v *Validator) TestCredentials(ctx context.Context, accessKeyID, secretAccessKey string) (CallerIdentity, error) {
	client, err := v.factory(ctx, accessKeyID, secretAccessKey)
	if err != nil {
		return CallerIdentity{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	var lastErr error
	for attempt := 1; attempt <= v.maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, v.requestTimeout)
		output, callErr := client.GetCallerIdentity(callCtx, &sts.GetCallerIdentityInput{})
		cancel()

		if callErr == nil {
			return CallerIdentity{
				Account: aws.ToString(output.Account),
				UserID:  aws.ToString(output.UserId),
				ARN:     aws.ToString(output.Arn),
			}, nil
		}

		classified := classifyError(callErr)
		if !isTransient(classified) {
			return CallerIdentity{}, classified
		}

		lastErr = classified
		v.logger.Warn("sts caller identity check failed",
			zap.Int("attempt", attempt),
			zap.Error(callErr),
		)
		if attempt < v.maxAttempts {
			select {
			case <-time.After(v.retryDelay):
			case <-ctx.Done():
				return CallerIdentity{}, fmt.Errorf("%w: %v", ErrNetworkTimeout, ctx.Err())
			}
		}
	}

	return CallerIdentity{}, lastErr
}

func isTransient(err error) bool {
	return errors.Is(err, ErrNetworkTimeout) || errors.Is(err, ErrProviderUnavailable)
}

// classifyError maps the open-ended AWS error surface onto the closed internal
// taxonomy. Anything unrecognized is treated as the provider being unavailable
// rather than leaking through raw.
func classifyError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidClientTokenId", "SignatureDoesNotMatch", "IncompleteSignature", "UnrecognizedClientException", "AuthFailure":
			return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		case "AccessDenied", "AccessDeniedException", "UnauthorizedOperation":
			return fmt.Errorf("%w: %v", ErrAccessDenied, err)
		case "ExpiredToken", "ExpiredTokenException", "RequestExpired":
			return fmt.Errorf("%w: %v", ErrCredentialsExpired, err)
		}
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrNetworkTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrNetworkTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

// newSTSClientFactory builds real STS clients with static credentials. SDK
// retries are disabled so the validator's own retry budget is authoritative.
func newSTSClientFactory(region string) ClientFactory {
	httpClient := &http.Client{
		Timeout: defaultRequestTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: defaultConnectTimeout,
			}).DialContext,
			TLSHandshakeTimeout: defaultConnectTimeout,
		},
	}

	return func(ctx context.Context, accessKeyID, secretAccessKey string) (CallerIdentityAPI, error) {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")),
			awsconfig.WithHTTPClient(httpClient),
			awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
		)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return sts.NewFromConfig(awsCfg), nil
	}
}
