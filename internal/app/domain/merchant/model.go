package merchant

import (
	"strings"
	"time"
)

// Merchant is a business accepting payments at the point of sale.
type Merchant struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	LogoURL       string    `json:"logo_url,omitempty"`
	WalletAddress string    `json:"-"`
	WalletMasked  string    `json:"wallet_masked,omitempty"`
	Category      string    `json:"category,omitempty"`
	Email         string    `json:"email,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	Flags         Flags     `json:"flags"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Flags are merchant feature switches.
type Flags struct {
	PixSettlement  bool `json:"pix_settlement"`
	PayWithBinance bool `json:"pay_with_binance"`
	UseProgram     bool `json:"use_program"`
	DemoMode       bool `json:"demo_mode"`
}

// Member links an auth user to a merchant.
type Member struct {
	UserID     string    `json:"user_id"`
	MerchantID string    `json:"merchant_id"`
	Role       string    `json:"role"`
	IsDefault  bool      `json:"is_default"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

const MemberActive = "active"

// Active reports whether the membership grants access.
func (m Member) Active() bool { return m.Status == MemberActive }

// MaskWallet keeps the first and last four characters of an address.
func MaskWallet(addr string) string {
	addr = strings.TrimSpace(addr)
	if len(addr) <= 8 {
		return addr
	}
	return addr[:4] + "..." + addr[len(addr)-4:]
}

// Profile is the editable subset of a merchant. Nil fields are left unchanged.
type Profile struct {
	Name          *string `json:"name,omitempty"`
	LogoURL       *string `json:"logo_url,omitempty"`
	WalletAddress *string `json:"wallet_address,omitempty"`
	Category      *string `json:"category,omitempty"`
	Email         *string `json:"email,omitempty"`
	Phone         *string `json:"phone,omitempty"`
}

// Apply copies set fields onto m.
func (p Profile) Apply(m *Merchant) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&m.Name, p.Name)
	set(&m.LogoURL, p.LogoURL)
	set(&m.WalletAddress, p.WalletAddress)
	set(&m.Category, p.Category)
	set(&m.Email, p.Email)
	set(&m.Phone, p.Phone)
}

// FlagsPatch toggles individual flags. Nil fields are left unchanged.
type FlagsPatch struct {
	PixSettlement  *bool `json:"pix_settlement,omitempty"`
	PayWithBinance *bool `json:"pay_with_binance,omitempty"`
	UseProgram     *bool `json:"use_program,omitempty"`
	DemoMode       *bool `json:"demo_mode,omitempty"`
}

// Apply copies set flags onto f.
func (p FlagsPatch) Apply(f *Flags) {
	if p.PixSettlement != nil {
		f.PixSettlement = *p.PixSettlement
	}
	if p.PayWithBinance != nil {
		f.PayWithBinance = *p.PayWithBinance
	}
	if p.UseProgram != nil {
		f.UseProgram = *p.UseProgram
	}
	if p.DemoMode != nil {
		f.DemoMode = *p.DemoMode
	}
}
