//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	au "github.com/panyam/authsite"
)

// AutoMigrate runs database migrations for all authsite tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&ProfileModel{},
		&SessionModel{},
	)
}

// AccountStore implements au.AccountStore using GORM. Token consumption is a
// conditional UPDATE inside a transaction so that concurrent consumers of
// the same token see exactly one winner.
type AccountStore struct {
	db *gorm.DB
}

func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, au.ErrNotFound)
	}
	return err
}

func (s *AccountStore) CreateAccount(ctx context.Context, user *au.User, profile *au.Profile) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&UserModel{}).Where("email = ?", user.Email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return au.ErrEmailTaken
		}
		if err := tx.Create(UserToModel(user)).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return au.ErrEmailTaken
			}
			return err
		}
		return tx.Create(ProfileToModel(profile)).Error
	})
}

func (s *AccountStore) GetUserByID(ctx context.Context, userID string) (*au.User, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", userID).Error; err != nil {
		return nil, notFound(err, "user "+userID)
	}
	return model.ToUser(), nil
}

func (s *AccountStore) GetUserByEmail(ctx context.Context, email string) (*au.User, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "email = ?", email).Error; err != nil {
		return nil, notFound(err, "email "+email)
	}
	return model.ToUser(), nil
}

func (s *AccountStore) GetProfile(ctx context.Context, userID string) (*au.Profile, error) {
	var model ProfileModel
	if err := s.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error; err != nil {
		return nil, notFound(err, "profile "+userID)
	}
	return model.ToProfile(), nil
}

// updateProfile applies updates to one profile row and fails with
// ErrNotFound when the row does not exist
func updateProfile(tx *gorm.DB, userID string, updates map[string]any) error {
	res := tx.Model(&ProfileModel{}).Where("user_id = ?", userID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("profile %s: %w", userID, au.ErrNotFound)
	}
	return nil
}

func (s *AccountStore) SetToken(ctx context.Context, userID string, purpose au.Purpose, token string, issuedAt time.Time) error {
	var updates map[string]any
	switch purpose {
	case au.PurposeVerification:
		updates = map[string]any{"verification_token": token, "verification_issued_at": issuedAt}
	case au.PurposeReset:
		updates = map[string]any{"reset_token": token, "reset_issued_at": issuedAt}
	default:
		return fmt.Errorf("unknown token purpose %q", purpose)
	}
	return updateProfile(s.db.WithContext(ctx), userID, updates)
}

func (s *AccountStore) ConsumeVerification(ctx context.Context, userID, token string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ProfileModel{}).
			Where("user_id = ? AND verification_token = ?", userID, token).
			Updates(map[string]any{
				"verification_token":     nil,
				"verification_issued_at": nil,
				"email_verified":         true,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return au.ErrInvalidToken
		}
		return tx.Model(&UserModel{}).Where("id = ?", userID).Update("is_active", true).Error
	})
}

func (s *AccountStore) ConsumeReset(ctx context.Context, userID, token, passwordHash string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ProfileModel{}).
			Where("user_id = ? AND reset_token = ?", userID, token).
			Updates(map[string]any{"reset_token": nil, "reset_issued_at": nil})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return au.ErrInvalidToken
		}
		return tx.Model(&UserModel{}).Where("id = ?", userID).Update("password_hash", passwordHash).Error
	})
}

func (s *AccountStore) SetPassword(ctx context.Context, userID, passwordHash string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&UserModel{}).Where("id = ?", userID).Update("password_hash", passwordHash)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("user %s: %w", userID, au.ErrNotFound)
		}
		return updateProfile(tx, userID, map[string]any{"reset_token": nil, "reset_issued_at": nil})
	})
}

func (s *AccountStore) SetRole(ctx context.Context, userID string, role au.Role) error {
	return updateProfile(s.db.WithContext(ctx), userID, map[string]any{"role": string(role)})
}

func (s *AccountStore) MarkVerified(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := updateProfile(tx, userID, map[string]any{
			"email_verified":         true,
			"verification_token":     nil,
			"verification_issued_at": nil,
		}); err != nil {
			return err
		}
		return tx.Model(&UserModel{}).Where("id = ?", userID).Update("is_active", true).Error
	})
}

func (s *AccountStore) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", userID).Update("last_login_at", at).Error
}

func (s *AccountStore) ListAccounts(ctx context.Context, offset, limit int) ([]au.Account, error) {
	db := s.db.WithContext(ctx)
	q := db.Order("created_at DESC").Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	var users []UserModel
	if err := q.Find(&users).Error; err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}

	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	var profiles []ProfileModel
	if err := db.Where("user_id IN ?", ids).Find(&profiles).Error; err != nil {
		return nil, err
	}
	byUser := make(map[string]*ProfileModel, len(profiles))
	for i := range profiles {
		byUser[profiles[i].UserID] = &profiles[i]
	}

	out := make([]au.Account, 0, len(users))
	for i := range users {
		p, ok := byUser[users[i].ID]
		if !ok {
			continue
		}
		out = append(out, au.Account{User: users[i].ToUser(), Profile: p.ToProfile()})
	}
	return out, nil
}

func (s *AccountStore) CountAccounts(ctx context.Context) (au.AccountStats, error) {
	db := s.db.WithContext(ctx)
	var stats au.AccountStats
	if err := db.Model(&UserModel{}).Count(&stats.Total).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&ProfileModel{}).Where("email_verified = ?", true).Count(&stats.Verified).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&ProfileModel{}).Where("role = ?", string(au.RoleAdmin)).Count(&stats.Admins).Error; err != nil {
		return stats, err
	}
	return stats, nil
}
