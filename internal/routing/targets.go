package routing

import (
	"sort"

	"github.com/gdsec-test/dcu-middleware/internal/domain"
)

// CloseReasonForwarded closes tickets that only the regional partner could act on.
const CloseReasonForwarded = "forwarded_no_action_possible"

// Decision is the outcome of FindTargets. It is never persisted.
type Decision struct {
	Brands           []domain.Brand
	CloseAsForwarded bool
}

// FindTargets computes the brands that must receive a ticket. Unknown brand
// labels are ignored; brands sharing the GODADDY consumer collapse to GODADDY
// so the consumer sees the ticket once.
func FindTargets(hostBrand, registrarBrand domain.Brand) Decision {
	if hostBrand == "" && registrarBrand == "" {
		return Decision{Brands: []domain.Brand{domain.BrandGoDaddy}}
	}

	set := make(map[domain.Brand]struct{}, 2)
	for _, b := range []domain.Brand{hostBrand, registrarBrand} {
		if b.Known() {
			set[b] = struct{}{}
		}
	}

	if len(set) > 1 && allRouteToOwnBrand(set) {
		set = map[domain.Brand]struct{}{domain.BrandGoDaddy: {}}
	}

	if _, ok := set[domain.BrandEMEA]; ok && len(set) == 1 {
		return Decision{CloseAsForwarded: true}
	}

	brands := make([]domain.Brand, 0, len(set))
	for b := range set {
		brands = append(brands, b)
	}
	sort.Slice(brands, func(i, j int) bool { return brands[i] < brands[j] })
	return Decision{Brands: brands}
}

func allRouteToOwnBrand(set map[domain.Brand]struct{}) bool {
	for b := range set {
		if !b.RoutesToOwnBrand() {
			return false
		}
	}
	return true
}
