package users

import (
	"strings"
	"time"
)

// Authentication providers recognized for a user record.
const (
	ProviderLocal  = "local"
	ProviderGoogle = "google"
)

// User is the durable principal record. Exactly one of PasswordHash and
// GoogleID is populated depending on Provider, and the AWS credential block is
// either fully present or fully absent.
type User struct {
	ID                 string    `gorm:"column:id;primaryKey;size:36;not null"`
	Email              string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	Name               string    `gorm:"column:name;size:320"`
	Provider           string    `gorm:"column:provider;size:32;not null"`
	PasswordHash       string    `gorm:"column:password_hash;size:120"`
	GoogleID           *string   `gorm:"column:google_id;size:190;uniqueIndex"`
	AWSAccessKeyID     string    `gorm:"column:aws_access_key_id;size:128"`
	AWSSecretAccessKey string    `gorm:"column:aws_secret_access_key;size:128"`
	AWSAccountID       string    `gorm:"column:aws_account_id;size:64"`
	AWSCallerUserID    string    `gorm:"column:aws_caller_user_id;size:190"`
	AWSArn             string    `gorm:"column:aws_arn;size:512"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user records.
func (User) TableName() string {
	return "users"
}

// AWSCredentials is the linked credential pair plus the canonical identity
// reported by AWS at validation time.
type AWSCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	AccountID       string
	CallerUserID    string
	ARN             string
}

// AWSCredentials returns the linked credential block, reporting ok=false when
// no pair has been attached. The block is written atomically so callers never
// observe a partially populated pair.
func (u *User) AWSCredentials() (AWSCredentials, bool) {
	if u.AWSAccessKeyID == "" || u.AWSSecretAccessKey == "" || u.AWSArn == "" {
		return AWSCredentials{}, false
	}
	return AWSCredentials{
		AccessKeyID:     u.AWSAccessKeyID,
		SecretAccessKey: u.AWSSecretAccessKey,
		AccountID:       u.AWSAccountID,
		CallerUserID:    u.AWSCallerUserID,
		ARN:             u.AWSArn,
	}, true
}

// HasAWSCredentials reports whether a validated credential pair is linked.
func (u *User) HasAWSCredentials() bool {
	_, ok := u.AWSCredentials()
	return ok
}

// NormalizeEmail lowercases and trims an email address for lookup and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
