package domain

// EnrichmentData is the envelope the enrichment service answers with.
type EnrichmentData struct {
	DomainQuery *DomainQuery `json:"domainQuery,omitempty"`
}

// DomainQuery holds the ownership facts for the queried domain.
type DomainQuery struct {
	Domain               string                `json:"domain,omitempty"`
	Blacklist            bool                  `json:"blacklist"`
	IsDomainHighValue    bool                  `json:"isDomainHighValue,omitempty"`
	Host                 *Host                 `json:"host,omitempty"`
	Registrar            *Registrar            `json:"registrar,omitempty"`
	ShopperInfo          *ShopperInfo          `json:"shopperInfo,omitempty"`
	APIReseller          *APIReseller          `json:"apiReseller,omitempty"`
	SecuritySubscription *SecuritySubscription `json:"securitySubscription,omitempty"`
}

// Host describes where the content is hosted.
type Host struct {
	Brand              string `json:"brand,omitempty"`
	Product            string `json:"product,omitempty"`
	GUID               string `json:"guid,omitempty"`
	ShopperID          string `json:"shopperId,omitempty"`
	CustomerID         string `json:"customerId,omitempty"`
	EntitlementID      string `json:"entitlementId,omitempty"`
	Username           string `json:"username,omitempty"`
	IP                 string `json:"ip,omitempty"`
	Hostname           string `json:"hostname,omitempty"`
	DataCenter         string `json:"dataCenter,omitempty"`
	ContainerID        string `json:"containerId,omitempty"`
	HostingCompanyName string `json:"hostingCompanyName,omitempty"`
	PrivateLabelID     string `json:"privateLabelId,omitempty"`
	Reseller           string `json:"reseller,omitempty"`
	ShopperCreateDate  string `json:"shopperCreateDate,omitempty"`
	VIP                *VIP   `json:"vip,omitempty"`
}

// MergeShopper copies the account facts of a shopper lookup onto h.
func (h *Host) MergeShopper(shopper *Host) {
	if h == nil || shopper == nil {
		return
	}
	if shopper.ShopperID != "" {
		h.ShopperID = shopper.ShopperID
	}
	if shopper.CustomerID != "" {
		h.CustomerID = shopper.CustomerID
	}
	if shopper.ShopperCreateDate != "" {
		h.ShopperCreateDate = shopper.ShopperCreateDate
	}
	if shopper.VIP != nil {
		vip := *shopper.VIP
		h.VIP = &vip
	}
}

// Registrar describes who registered the domain.
type Registrar struct {
	Brand               string   `json:"brand,omitempty"`
	DomainID            string   `json:"domainId,omitempty"`
	DomainCreateDate    string   `json:"domainCreateDate,omitempty"`
	RegistrarName       string   `json:"registrarName,omitempty"`
	RegistrarAbuseEmail []string `json:"registrarAbuseEmail,omitempty"`
}

// ShopperInfo is the account that owns the domain registration.
type ShopperInfo struct {
	ShopperID         string `json:"shopperId,omitempty"`
	CustomerID        string `json:"customerId,omitempty"`
	ShopperCreateDate string `json:"shopperCreateDate,omitempty"`
	DomainCount       int    `json:"domainCount,omitempty"`
	VIP               *VIP   `json:"vip,omitempty"`
}

// APIReseller links reseller parent and child accounts.
type APIReseller struct {
	Parent           string `json:"parent,omitempty"`
	Child            string `json:"child,omitempty"`
	ParentCustomerID string `json:"parentCustomerId,omitempty"`
	ChildCustomerID  string `json:"childCustomerId,omitempty"`
}

// SecuritySubscription lists security products attached to the domain.
type SecuritySubscription struct {
	SucuriProduct []string `json:"sucuriProduct,omitempty"`
}

// VIP flags accounts that must not be actioned automatically.
type VIP struct {
	Blacklist     bool   `json:"blacklist"`
	PortfolioType string `json:"portfolioType,omitempty"`
	ShopperID     string `json:"shopperId,omitempty"`
}

// HostBrand returns the parsed host brand or the empty brand.
func (dq *DomainQuery) HostBrand() Brand {
	if dq == nil || dq.Host == nil {
		return ""
	}
	return Brand(dq.Host.Brand)
}

// RegistrarBrand returns the parsed registrar brand or the empty brand.
func (dq *DomainQuery) RegistrarBrand() Brand {
	if dq == nil || dq.Registrar == nil {
		return ""
	}
	return Brand(dq.Registrar.Brand)
}

// HostShopperID is the account owning the hosting product.
func (dq *DomainQuery) HostShopperID() string {
	if dq == nil || dq.Host == nil {
		return ""
	}
	return dq.Host.ShopperID
}

// DomainShopperID is the account owning the domain registration.
func (dq *DomainQuery) DomainShopperID() string {
	if dq == nil || dq.ShopperInfo == nil {
		return ""
	}
	return dq.ShopperInfo.ShopperID
}
