package enrichment

import "github.com/gdsec-test/dcu-middleware/internal/domain"

const (
	// LegacyBillingProduct is hosted on the legacy billing platform, where the
	// account username is the only reliable owner handle.
	LegacyBillingProduct = "Diablo WHMCS"
	// UsernameNotFound is what the enrichment service answers for an unknown username.
	UsernameNotFound = "NotFound"
)

// Validator decides whether enrichment produced enough facts for the
// ownership it claims.
type Validator struct {
	registeredOnly map[string]struct{}
}

// NewValidator builds a validator. Products in registeredOnly never make a
// "hosted here" claim.
func NewValidator(registeredOnly map[string]struct{}) *Validator {
	return &Validator{registeredOnly: registeredOnly}
}

// Succeeded reports whether dq is complete for its ownership claim.
func (v *Validator) Succeeded(dq *domain.DomainQuery) bool {
	if dq == nil {
		return true
	}
	if v.hostedHere(dq) && !hostComplete(dq.Host) {
		return false
	}
	if dq.RegistrarBrand() == domain.BrandGoDaddy && !registrationComplete(dq) {
		return false
	}
	// A registration account without any host brand cannot be routed reliably.
	if dq.HostBrand() == "" && dq.DomainShopperID() != "" {
		return false
	}
	return true
}

func (v *Validator) hostedHere(dq *domain.DomainQuery) bool {
	if dq.HostBrand() != domain.BrandGoDaddy {
		return false
	}
	_, registeredOnly := v.registeredOnly[dq.Host.Product]
	return !registeredOnly
}

func hostComplete(h *domain.Host) bool {
	if h.ShopperID == "" || h.CustomerID == "" || h.Product == "" || h.GUID == "" {
		return false
	}
	if h.Product == LegacyBillingProduct && (h.Username == "" || h.Username == UsernameNotFound) {
		return false
	}
	return true
}

func registrationComplete(dq *domain.DomainQuery) bool {
	return dq.Registrar.DomainID != "" && dq.DomainShopperID() != "" &&
		dq.ShopperInfo != nil && dq.ShopperInfo.CustomerID != ""
}
