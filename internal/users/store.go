package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nags45/scalops/internal/auth"
)

var (
	// ErrNotFound reports a lookup that matched no user record.
	ErrNotFound = errors.New("users: not found")
	// ErrDuplicateEmail reports a create that collided on the email constraint.
	ErrDuplicateEmail = errors.New("users: email already registered")
	// ErrDuplicateGoogleID reports a create that collided on the federated subject constraint.
	ErrDuplicateGoogleID = errors.New("users: google account already registered")

	errInvalidProvider = errors.New("users: unknown provider")
	errMissingEmail    = errors.New("users: email required")
)

// StoreConfig describes the dependencies required by the user store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Store owns durable user records: lookups, atomic creation and the
// all-or-nothing AWS credential update.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore constructs the store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: cfg.Database, now: clock}, nil
}

// NewUserAttrs carries the attributes for a user create. Password is plaintext
// and is hashed before persistence; it is only meaningful for ProviderLocal.
type NewUserAttrs struct {
	Email    string
	Password string
	Name     string
	Provider string
	GoogleID string
}

// Create atomically inserts a new user. Uniqueness races between concurrent
// creates are resolved by the database constraints: exactly one caller wins,
// the other receives a duplicate error.
func (s *Store) Create(ctx context.Context, attrs NewUserAttrs) (*User, error) {
	email := NormalizeEmail(attrs.Email)
	if email == "" {
		return nil, errMissingEmail
	}
	if attrs.Provider != ProviderLocal && attrs.Provider != ProviderGoogle {
		return nil, fmt.Errorf("%w: %q", errInvalidProvider, attrs.Provider)
	}

	user := User{
		ID:       uuid.NewString(),
		Email:    email,
		Name:     strings.TrimSpace(attrs.Name),
		Provider: attrs.Provider,
	}

	if attrs.Provider == ProviderLocal {
		hashed, err := auth.HashPassword(attrs.Password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hashed
	} else {
		subject := strings.TrimSpace(attrs.GoogleID)
		if subject == "" {
			return nil, fmt.Errorf("users: google subject id required")
		}
		user.GoogleID = &subject
	}

	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, classifyCreateError(err)
	}
	return &user, nil
}

// FindByEmail returns the user registered under the case-normalized email.
func (s *Store) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.findOne(ctx, "email = ?", NormalizeEmail(email))
}

// FindByGoogleID returns the user linked to the federated subject id.
func (s *Store) FindByGoogleID(ctx context.Context, googleID string) (*User, error) {
	return s.findOne(ctx, "google_id = ?", strings.TrimSpace(googleID))
}

// FindByID returns the user with the given internal id.
func (s *Store) FindByID(ctx context.Context, id string) (*User, error) {
	return s.findOne(ctx, "id = ?", id)
}

func (s *Store) findOne(ctx context.Context, query string, arg string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where(query, arg).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// AttachAWSCredentials writes the credential pair and the canonical identity
// reported by AWS in a single UPDATE, so concurrent readers never observe a
// half-linked record. Re-linking overwrites the previous block wholesale.
func (s *Store) AttachAWSCredentials(ctx context.Context, id string, creds AWSCredentials) (*User, error) {
	result := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"aws_access_key_id":     creds.AccessKeyID,
		"aws_secret_access_key": creds.SecretAccessKey,
		"aws_account_id":        creds.AccountID,
		"aws_caller_user_id":    creds.CallerUserID,
		"aws_arn":               creds.ARN,
		"updated_at":            s.now().UTC(),
	})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.FindByID(ctx, id)
}

func classifyCreateError(err error) error {
	message := err.Error()
	if !strings.Contains(message, "UNIQUE constraint failed") {
		return err
	}
	if strings.Contains(message, "users.google_id") {
		return fmt.Errorf("%w: %v", ErrDuplicateGoogleID, err)
	}
	return fmt.Errorf("%w: %v", ErrDuplicateEmail, err)
}
