package receivers

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"paycheck/internal/engine/providers"
)

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

type CreateInput struct {
	Provider          providers.Provider
	AccountNumber     string
	AccountHolderName string
	Label             string
	// Activate makes the new account the ACTIVE one for its provider.
	Activate bool
}

func (s *Service) Create(ctx context.Context, merchantID string, in CreateInput) (*Account, error) {
	if _, err := providers.ParseProvider(string(in.Provider)); err != nil {
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidInput, in.Provider)
	}

	number := normalizeAccountNumber(in.AccountNumber)
	if len(number) < 4 {
		return nil, fmt.Errorf("%w: account number is too short", ErrInvalidInput)
	}
	holder := strings.TrimSpace(in.AccountHolderName)
	if holder == "" {
		return nil, fmt.Errorf("%w: account holder name is required", ErrInvalidInput)
	}

	a := &Account{
		MerchantID:        merchantID,
		Provider:          in.Provider,
		AccountNumber:     number,
		AccountHolderName: holder,
		Label:             strings.TrimSpace(in.Label),
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}

	if in.Activate {
		return s.Enable(ctx, merchantID, a.ID)
	}
	return a, nil
}

func (s *Service) Enable(ctx context.Context, merchantID, id string) (*Account, error) {
	a, err := s.repo.Activate(ctx, merchantID, id)
	if err != nil {
		return nil, err
	}
	log.Info().Str("merchant_id", merchantID).Str("provider", string(a.Provider)).Str("receiver_id", a.ID).Msg("receiver account enabled")
	return a, nil
}

func (s *Service) Disable(ctx context.Context, merchantID, id string) (*Account, error) {
	a, err := s.repo.Deactivate(ctx, merchantID, id)
	if err != nil {
		return nil, err
	}
	log.Info().Str("merchant_id", merchantID).Str("provider", string(a.Provider)).Str("receiver_id", a.ID).Msg("receiver account disabled")
	return a, nil
}

// EnableLast re-activates the account that was deactivated most recently for
// provider, replacing the current ACTIVE one if any.
func (s *Service) EnableLast(ctx context.Context, merchantID string, provider providers.Provider) (*Account, error) {
	prev, err := s.repo.LastDeactivated(ctx, merchantID, provider)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, ErrNoPrevious
	}
	return s.Enable(ctx, merchantID, prev.ID)
}

// Active returns nil, nil when no account is ACTIVE for the pair.
func (s *Service) Active(ctx context.Context, merchantID string, provider providers.Provider) (*Account, error) {
	return s.repo.GetActive(ctx, merchantID, provider)
}

func (s *Service) List(ctx context.Context, merchantID string, provider providers.Provider) ([]*Account, error) {
	return s.repo.List(ctx, merchantID, provider)
}
