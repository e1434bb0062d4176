package audithook

// Action constants for audit events.
const (
	// Template actions
	ActionTemplateCreated = "template.created"
	ActionTemplateUpdated = "template.updated"

	// Coupon actions
	ActionCouponRedeemed = "coupon.redeemed"

	// License actions
	ActionLicenseCreated   = "license.created"
	ActionLicenseActivated = "license.activated"
	ActionLicenseRenewed   = "license.renewed"
	ActionLicenseSuspended = "license.suspended"
	ActionLicenseResumed   = "license.resumed"
	ActionLicenseExpired   = "license.expired"
	ActionLicenseCancelled = "license.cancelled"

	// Override actions
	ActionOverrideSet = "override.set"

	// Account actions
	ActionAccountDeleted = "account.deleted"

	// Payment actions
	ActionPaymentMismatch = "payment.mismatch"
	ActionOverageDue      = "overage.due"
	ActionRenewalDue      = "renewal.due"

	// Access actions
	ActionAccessDenied = "access.denied"
)

// Resource constants for audit events.
const (
	ResourceTemplate = "template"
	ResourceCoupon   = "coupon"
	ResourceLicense  = "license"
	ResourceAccount  = "account"
	ResourceContent  = "content"
)

// Category constants for audit events.
const (
	CategoryCatalog   = "catalog"
	CategoryLicensing = "licensing"
	CategoryUsage     = "usage"
	CategoryAccess    = "access"
	CategoryPayment   = "payment"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
