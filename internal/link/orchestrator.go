package link

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nags45/scalops/internal/awscloud"
	"github.com/nags45/scalops/internal/users"
)

var (
	// ErrEmptyCredentials reports blank input, rejected before any external call.
	ErrEmptyCredentials = errors.New("link: access key id and secret access key must not be empty")
	// ErrIdentityVanished reports a user deleted between validation and attach.
	ErrIdentityVanished = errors.New("link: identity no longer exists")
	// ErrNotLinked reports a refresh for a user with no stored credential pair.
	ErrNotLinked = errors.New("link: no aws credentials linked")
)

// CredentialValidator is the external identity-check dependency.
type CredentialValidator interface {
	TestCredentials(ctx context.Context, accessKeyID, secretAccessKey string) (awscloud.CallerIdentity, error)
}

// OrchestratorConfig describes the dependencies of the linking workflow.
type OrchestratorConfig struct {
	Validator CredentialValidator
	Store     *users.Store
	Logger    *zap.Logger
}

// Orchestrator coordinates the credential-linking flow: validate the candidate
// pair against the provider, then durably attach the pair plus the
// provider-reported canonical identity to exactly one user. The store is never
// touched on a rejected validation.
type Orchestrator struct {
	validator CredentialValidator
	store     *users.Store
	logger    *zap.Logger
}

// NewOrchestrator constructs the orchestrator with validated dependencies.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Validator == nil {
		return nil, fmt.Errorf("link: credential validator required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("link: user store required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		validator: cfg.Validator,
		store:     cfg.Store,
		logger:    logger,
	}, nil
}

// Link validates the candidate pair and attaches it to the verified user id.
// The persisted canonical identity is always the validator's answer, never the
// caller-supplied input echoed back. Re-linking after a fresh validation
// overwrites the previous pair wholesale.
func (o *Orchestrator) Link(ctx context.Context, userID, accessKeyID, secretAccessKey string) (awscloud.CallerIdentity, error) {
	access := strings.TrimSpace(accessKeyID)
	secret := strings.TrimSpace(secretAccessKey)
	if access == "" || secret == "" {
		return awscloud.CallerIdentity{}, ErrEmptyCredentials
	}

	identity, err := o.validator.TestCredentials(ctx, access, secret)
	if err != nil {
		o.logger.Info("aws credential validation rejected",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return awscloud.CallerIdentity{}, err
	}

	_, err = o.store.AttachAWSCredentials(ctx, userID, users.AWSCredentials{
		AccessKeyID:     access,
		SecretAccessKey: secret,
		AccountID:       identity.Account,
		CallerUserID:    identity.UserID,
		ARN:             identity.ARN,
	})
	if errors.Is(err, users.ErrNotFound) {
		// Validation succeeded but the link was never persisted; the caller
		// must hear about it.
		return awscloud.CallerIdentity{}, fmt.Errorf("%w: %v", ErrIdentityVanished, err)
	}
	if err != nil {
		return awscloud.CallerIdentity{}, err
	}

	o.logger.Info("aws account linked",
		zap.String("user_id", userID),
		zap.String("aws_account", identity.Account),
		zap.String("aws_arn", identity.ARN),
	)
	return identity, nil
}

// RefreshStatus re-validates the stored pair with a live provider call. It is
// an explicit trigger only; reading a profile never revalidates implicitly.
func (o *Orchestrator) RefreshStatus(ctx context.Context, userID string) (awscloud.CallerIdentity, error) {
	user, err := o.store.FindByID(ctx, userID)
	if err != nil {
		return awscloud.CallerIdentity{}, err
	}
	creds, ok := user.AWSCredentials()
	if !ok {
		return awscloud.CallerIdentity{}, ErrNotLinked
	}
	return o.validator.TestCredentials(ctx, creds.AccessKeyID, creds.SecretAccessKey)
}
