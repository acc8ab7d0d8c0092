package domain

// Brand identifies the downstream business unit that processes a ticket.
type Brand string

const (
	BrandGoDaddy Brand = "GODADDY"
	BrandReg123  Brand = "123REG"
	BrandForeign Brand = "FOREIGN"
	BrandEMEA    Brand = "EMEA"
)

// KnownBrands is the closed set of routable brands.
var KnownBrands = []Brand{BrandGoDaddy, BrandReg123, BrandForeign, BrandEMEA}

// Destination is the downstream consumer a brand is delivered to.
type Destination string

const (
	DestinationGoDaddy        Destination = "process_gd"
	DestinationEMEA           Destination = "process_emea"
	DestinationExternalReport Destination = "process_external_report"
)

// brandDestinations maps each known brand to its downstream consumer. Brands
// sharing a destination form the group that collapses onto GODADDY.
var brandDestinations = map[Brand]Destination{
	BrandGoDaddy: DestinationGoDaddy,
	BrandReg123:  DestinationGoDaddy,
	BrandForeign: DestinationGoDaddy,
	BrandEMEA:    DestinationEMEA,
}

// Known reports whether b belongs to the closed brand set.
func (b Brand) Known() bool {
	_, ok := brandDestinations[b]
	return ok
}

// Destination returns the downstream consumer for b.
func (b Brand) Destination() (Destination, bool) {
	d, ok := brandDestinations[b]
	return d, ok
}

// RoutesToOwnBrand reports whether b is delivered to the GODADDY consumer.
func (b Brand) RoutesToOwnBrand() bool {
	d, ok := brandDestinations[b]
	return ok && d == DestinationGoDaddy
}

// resellerBrands maps host private label ids to reseller brands.
var resellerBrands = map[string]Brand{
	"525844": BrandReg123,
}

// ResellerForPrivateLabel returns the reseller brand for a private label id.
func ResellerForPrivateLabel(plid string) (Brand, bool) {
	b, ok := resellerBrands[plid]
	return b, ok
}
