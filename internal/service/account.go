// Package service provides business logic implementations.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"kai-bot/internal/model"
	"kai-bot/internal/repository"
)

// AccountService handles user account operations: registration, balance
// changes with transaction records, daily rewards and the leaderboard.
type AccountService struct {
	userRepo    *repository.UserRepository
	txRepo      *repository.TransactionRepository
	dailyReward int64
	cooldownHrs int
}

// NewAccountService creates a new AccountService instance.
func NewAccountService(
	userRepo *repository.UserRepository,
	txRepo *repository.TransactionRepository,
	dailyReward int64,
	cooldownHours int,
) *AccountService {
	return &AccountService{
		userRepo:    userRepo,
		txRepo:      txRepo,
		dailyReward: dailyReward,
		cooldownHrs: cooldownHours,
	}
}

// EnsureUser ensures a user exists, creating one if necessary.
// Returns the user and whether it was newly created.
func (s *AccountService) EnsureUser(ctx context.Context, telegramID int64, username string) (*model.User, bool, error) {
	user, created, err := s.userRepo.GetOrCreate(ctx, telegramID, username)
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure user: %w", err)
	}

	// Keep the stored username current
	if !created && user.Username != username && username != "" {
		if err := s.userRepo.UpdateUsername(ctx, telegramID, username); err != nil {
			log.Warn().Err(err).Int64("user_id", telegramID).Msg("Failed to update username")
		}
		user.Username = username
	}

	return user, created, nil
}

// GetBalance retrieves a user's current balance.
func (s *AccountService) GetBalance(ctx context.Context, telegramID int64) (int64, error) {
	user, err := s.userRepo.GetByID(ctx, telegramID)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return user.Balance, nil
}

// GetUser retrieves a user by their Telegram ID.
func (s *AccountService) GetUser(ctx context.Context, telegramID int64) (*model.User, error) {
	return s.userRepo.GetByID(ctx, telegramID)
}

// GetUserByUsername retrieves a user by their stored username.
func (s *AccountService) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.userRepo.GetByUsername(ctx, username)
}

// UpdateBalance updates a user's balance by adding the specified amount.
// The amount can be negative to subtract from the balance.
// Also records a transaction for the balance change.
func (s *AccountService) UpdateBalance(ctx context.Context, telegramID int64, amount int64, txType string, description *string) (*model.User, error) {
	user, err := s.userRepo.UpdateBalance(ctx, telegramID, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	if _, err := s.txRepo.Create(ctx, telegramID, amount, txType, description); err != nil {
		// Balance already moved; a missing record must not undo it
		log.Warn().Err(err).Int64("user_id", telegramID).Str("type", txType).
			Msg("Failed to record transaction")
	}

	return user, nil
}

// ClaimDaily attempts to claim the daily reward for a user.
// Returns whether the claim succeeded and a message describing the
// result (the remaining wait when it didn't).
func (s *AccountService) ClaimDaily(ctx context.Context, telegramID int64) (bool, string, error) {
	canClaim, remaining, err := s.userRepo.CanClaimDaily(ctx, telegramID, s.cooldownHrs)
	if err != nil {
		return false, "", fmt.Errorf("failed to check daily claim eligibility: %w", err)
	}

	if !canClaim {
		hours := int(remaining.Hours())
		minutes := int(remaining.Minutes()) % 60
		seconds := int(remaining.Seconds()) % 60
		msg := fmt.Sprintf("You already claimed today. Come back in %dh %dm %ds.", hours, minutes, seconds)
		return false, msg, nil
	}

	if _, err := s.userRepo.UpdateBalance(ctx, telegramID, s.dailyReward); err != nil {
		return false, "", fmt.Errorf("failed to add daily reward: %w", err)
	}

	now := time.Now().Unix()
	if _, err := s.userRepo.UpdateDailyClaim(ctx, telegramID, now); err != nil {
		return false, "", fmt.Errorf("failed to update daily claim time: %w", err)
	}

	desc := "daily reward"
	if _, err := s.txRepo.Create(ctx, telegramID, s.dailyReward, model.TxTypeDaily, &desc); err != nil {
		log.Warn().Err(err).Int64("user_id", telegramID).Msg("Failed to record daily reward transaction")
	}

	msg := fmt.Sprintf("Daily reward claimed! You received %d smiles.", s.dailyReward)
	return true, msg, nil
}

// CanClaimDaily checks if a user can claim their daily reward.
// Returns eligibility status and remaining time if not eligible.
func (s *AccountService) CanClaimDaily(ctx context.Context, telegramID int64) (bool, time.Duration, error) {
	return s.userRepo.CanClaimDaily(ctx, telegramID, s.cooldownHrs)
}

// GetTopUsers retrieves the top users by balance.
func (s *AccountService) GetTopUsers(ctx context.Context, limit int) ([]*model.User, error) {
	return s.userRepo.GetTopUsers(ctx, limit)
}
