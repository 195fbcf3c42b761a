package merchants

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"path"
	"strings"
	"time"

	"github.com/solpos/service_layer/internal/app/domain/merchant"
	"github.com/solpos/service_layer/internal/app/storage"
	svcerrors "github.com/solpos/service_layer/internal/errors"
	"github.com/solpos/service_layer/internal/solana"
	"github.com/solpos/service_layer/pkg/logger"
)

// LogoStore uploads merchant logos and returns their public URL.
type LogoStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	PublicURL(path string) string
}

// MaxLogoBytes bounds logo uploads.
const MaxLogoBytes = 2 << 20

var logoTypes = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
}

// Service resolves and edits the merchant a user acts for.
type Service struct {
	store storage.MerchantStore
	logos LogoStore
	log   *logger.Logger
}

// New constructs a merchant service. logos may be nil when uploads are disabled.
func New(store storage.MerchantStore, logos LogoStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("merchants")
	}
	return &Service{store: store, logos: logos, log: log}
}

// Current returns the merchant of the user's default active membership,
// falling back to the oldest active one.
func (s *Service) Current(ctx context.Context, userID string) (merchant.Merchant, error) {
	member, err := s.membership(ctx, userID)
	if err != nil {
		return merchant.Merchant{}, err
	}
	m, err := s.store.GetMerchant(ctx, member.MerchantID)
	if err != nil {
		return merchant.Merchant{}, mapStoreErr(err, "merchant", member.MerchantID)
	}
	return m, nil
}

// CurrentID is Current without loading the merchant row.
func (s *Service) CurrentID(ctx context.Context, userID string) (string, error) {
	member, err := s.membership(ctx, userID)
	if err != nil {
		return "", err
	}
	return member.MerchantID, nil
}

func (s *Service) membership(ctx context.Context, userID string) (merchant.Member, error) {
	if strings.TrimSpace(userID) == "" {
		return merchant.Member{}, svcerrors.Unauthorized("")
	}
	members, err := s.store.ListMemberships(ctx, userID)
	if err != nil {
		return merchant.Member{}, svcerrors.Internal("load memberships", err)
	}
	var fallback *merchant.Member
	for i := range members {
		if !members[i].Active() {
			continue
		}
		if members[i].IsDefault {
			return members[i], nil
		}
		if fallback == nil {
			fallback = &members[i]
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return merchant.Member{}, svcerrors.NotFound("merchant", userID).WithDetails("reason", "no active membership")
}

// Onboard creates a merchant owned by userID and makes it the default.
func (s *Service) Onboard(ctx context.Context, userID string, profile merchant.Profile) (merchant.Merchant, error) {
	if strings.TrimSpace(userID) == "" {
		return merchant.Merchant{}, svcerrors.Validation("user_id", "user_id is required")
	}
	var m merchant.Merchant
	profile.Apply(&m)
	if m.Name == "" {
		return merchant.Merchant{}, svcerrors.Validation("name", "name is required")
	}
	if err := validateProfile(m); err != nil {
		return merchant.Merchant{}, err
	}
	m, err := s.store.CreateMerchant(ctx, m)
	if err != nil {
		return merchant.Merchant{}, mapStoreErr(err, "merchant", m.ID)
	}
	if _, err := s.store.AddMember(ctx, merchant.Member{UserID: userID, MerchantID: m.ID, Role: "owner"}); err != nil {
		return merchant.Merchant{}, mapStoreErr(err, "membership", m.ID)
	}
	if err := s.store.SetDefaultMerchant(ctx, userID, m.ID); err != nil {
		return merchant.Merchant{}, mapStoreErr(err, "membership", m.ID)
	}
	m.WalletMasked = merchant.MaskWallet(m.WalletAddress)
	s.log.WithField("merchant_id", m.ID).WithField("user_id", userID).Info("merchant onboarded")
	return m, nil
}

// UpdateProfile applies profile edits to the current merchant.
func (s *Service) UpdateProfile(ctx context.Context, userID string, profile merchant.Profile) (merchant.Merchant, error) {
	m, err := s.Current(ctx, userID)
	if err != nil {
		return merchant.Merchant{}, err
	}
	profile.Apply(&m)
	if m.Name == "" {
		return merchant.Merchant{}, svcerrors.Validation("name", "name cannot be empty")
	}
	if err := validateProfile(m); err != nil {
		return merchant.Merchant{}, err
	}
	updated, err := s.store.UpdateMerchant(ctx, m)
	if err != nil {
		return merchant.Merchant{}, mapStoreErr(err, "merchant", m.ID)
	}
	s.log.WithField("merchant_id", m.ID).Info("merchant profile updated")
	return updated, nil
}

// UpdateFlags toggles feature flags on the current merchant.
func (s *Service) UpdateFlags(ctx context.Context, userID string, patch merchant.FlagsPatch) (merchant.Merchant, error) {
	m, err := s.Current(ctx, userID)
	if err != nil {
		return merchant.Merchant{}, err
	}
	patch.Apply(&m.Flags)
	updated, err := s.store.UpdateMerchant(ctx, m)
	if err != nil {
		return merchant.Merchant{}, mapStoreErr(err, "merchant", m.ID)
	}
	s.log.WithField("merchant_id", m.ID).WithField("flags", updated.Flags).Info("merchant flags updated")
	return updated, nil
}

// SetDefault switches the user's default merchant.
func (s *Service) SetDefault(ctx context.Context, userID, merchantID string) error {
	if strings.TrimSpace(merchantID) == "" {
		return svcerrors.Validation("merchant_id", "merchant_id is required")
	}
	if err := s.store.SetDefaultMerchant(ctx, userID, merchantID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return svcerrors.Forbidden("not a member of this merchant")
		}
		return svcerrors.Internal("set default merchant", err)
	}
	return nil
}

// UploadLogo stores a logo image and records its public URL on the merchant.
func (s *Service) UploadLogo(ctx context.Context, userID string, data []byte, contentType string) (merchant.Merchant, error) {
	if s.logos == nil {
		return merchant.Merchant{}, svcerrors.Unavailable("logo storage not configured", nil)
	}
	ext, ok := logoTypes[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		return merchant.Merchant{}, svcerrors.Validation("content_type", "logo must be png, jpeg, webp or svg")
	}
	if len(data) == 0 || len(data) > MaxLogoBytes {
		return merchant.Merchant{}, svcerrors.Validation("file", fmt.Sprintf("logo must be between 1 byte and %d bytes", MaxLogoBytes))
	}
	m, err := s.Current(ctx, userID)
	if err != nil {
		return merchant.Merchant{}, err
	}

	objectPath := path.Join(m.ID, fmt.Sprintf("logo-%d%s", time.Now().Unix(), ext))
	if err := s.logos.Upload(ctx, objectPath, data, contentType); err != nil {
		return merchant.Merchant{}, svcerrors.Upstream("storage", err)
	}
	m.LogoURL = s.logos.PublicURL(objectPath)
	updated, err := s.store.UpdateMerchant(ctx, m)
	if err != nil {
		return merchant.Merchant{}, mapStoreErr(err, "merchant", m.ID)
	}
	return updated, nil
}

func validateProfile(m merchant.Merchant) error {
	if m.WalletAddress != "" && !solana.ValidAddress(m.WalletAddress) {
		return svcerrors.Validation("wallet_address", "wallet_address is not a valid Solana address")
	}
	if m.Email != "" {
		if _, err := mail.ParseAddress(m.Email); err != nil {
			return svcerrors.Validation("email", "email is invalid")
		}
	}
	return nil
}

func mapStoreErr(err error, resource, id string) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return svcerrors.NotFound(resource, id)
	case errors.Is(err, storage.ErrConflict):
		return svcerrors.Conflict(resource + " already exists")
	}
	return svcerrors.Internal("merchant storage failure", err)
}
