package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

/* =============================== Enums ================================== */

// Role defines the type of user in the system.
type Role string

const (
	RoleClient Role = "client"
	RoleAdmin  Role = "admin"
)

// VehicleType defines the kinds of vehicles we insure.
type VehicleType string

const (
	VehicleCar  VehicleType = "car"
	VehicleMoto VehicleType = "moto"
)

// CoverageTier defines the named coverage packages.
type CoverageTier string

const (
	TierBasic    CoverageTier = "basic"
	TierStandard CoverageTier = "standard"
	TierPremium  CoverageTier = "premium"
)

// QuoteStatus defines lifecycle states for a quote.
type QuoteStatus string

const (
	QuotePending  QuoteStatus = "pending"
	QuoteApproved QuoteStatus = "approved"
	QuoteRejected QuoteStatus = "rejected"
	QuoteExpired  QuoteStatus = "expired"
)

// PolicyStatus defines lifecycle states for a policy.
type PolicyStatus string

const (
	PolicyPending   PolicyStatus = "pending"
	PolicyActive    PolicyStatus = "active"
	PolicyCancelled PolicyStatus = "cancelled"
	PolicyExpired   PolicyStatus = "expired"
)

// ClaimStatus defines lifecycle states for a claim.
type ClaimStatus string

const (
	ClaimPending  ClaimStatus = "pending"
	ClaimInReview ClaimStatus = "in_review"
	ClaimApproved ClaimStatus = "approved"
	ClaimRejected ClaimStatus = "rejected"
	ClaimSettled  ClaimStatus = "settled"
)

// PaymentStatus defines lifecycle states for a payment.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// PaymentType distinguishes premium charges from refunds.
type PaymentType string

const (
	PaymentPremium PaymentType = "premium"
	PaymentRefund  PaymentType = "refund"
)

// PaymentFrequency defines how often a policy premium is charged.
type PaymentFrequency string

const (
	FrequencyMonthly   PaymentFrequency = "monthly"
	FrequencyQuarterly PaymentFrequency = "quarterly"
	FrequencyAnnually  PaymentFrequency = "annually"
)

/* =============================== Entities =============================== */

// User represents a client or an admin.
type User struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Role         Role      `gorm:"type:varchar(20);not null"`
	Name         string
	Phone        string
	City         string
	CreatedAt    time.Time
}

// Quote represents a priced insurance offer, not yet a contract.
// Anonymous visitors may request quotes, so UserID is nullable; in that case
// CustomerName and CustomerEmail identify the prospect.
type Quote struct {
	ID          uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	QuoteNumber string     `gorm:"uniqueIndex;not null"` // QUO-<year>-<6 alnum>
	UserID      *uuid.UUID `gorm:"type:uuid;index"`

	CustomerName  string
	CustomerEmail string

	VehicleType  VehicleType  `gorm:"type:varchar(10);not null"`
	CoverageTier CoverageTier `gorm:"type:varchar(20);not null"`
	VehicleBrand string
	VehicleModel string

	// Pricing breakdown, frozen at quote time.
	BaseRate         decimal.Decimal `gorm:"type:decimal(12,2)"`
	CoverageCost     decimal.Decimal `gorm:"type:decimal(12,2)"`
	AgeFactor        decimal.Decimal `gorm:"type:decimal(6,2)"`
	VehicleAgeFactor decimal.Decimal `gorm:"type:decimal(6,2)"`
	ValueFactor      decimal.Decimal `gorm:"type:decimal(6,2)"`
	CityFactor       decimal.Decimal `gorm:"type:decimal(6,2)"`
	ExperienceFactor decimal.Decimal `gorm:"type:decimal(6,2)"`
	BrandFactor      decimal.Decimal `gorm:"type:decimal(6,2)"`
	RiskMultiplier   decimal.Decimal `gorm:"type:decimal(14,6)"`
	AnnualPremium    decimal.Decimal `gorm:"type:decimal(12,2)"`
	MonthlyPremium   decimal.Decimal `gorm:"type:decimal(12,2)"`
	QuarterlyPremium decimal.Decimal `gorm:"type:decimal(12,2)"`

	// CoverageItems is the resolved package item list (JSON, with limits).
	// CalculationDetails captures the raw customer/vehicle inputs supplied at
	// quote time so a later policy can reuse them.
	CoverageItems      string `gorm:"type:text"`
	CalculationDetails string `gorm:"type:text"`

	ValidUntil   time.Time
	Status       QuoteStatus `gorm:"type:varchar(20);default:'pending'"`
	AdminComment string

	// Set when the quote has been converted; the filled-only unique index
	// guarantees at most one policy per quote.
	PolicyID *uuid.UUID `gorm:"type:uuid;uniqueIndex:ux_quote_policy_filled"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Policy represents an insurance contract, active or retired.
type Policy struct {
	ID           uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	PolicyNumber string     `gorm:"uniqueIndex;not null"` // POL-<6-digit-ts>-<6 alnum>
	UserID       uuid.UUID  `gorm:"type:uuid;not null;index"`
	QuoteID      *uuid.UUID `gorm:"type:uuid;uniqueIndex:ux_policy_quote_filled"`

	VehicleType  VehicleType  `gorm:"type:varchar(10);not null"`
	CoverageTier CoverageTier `gorm:"type:varchar(20);not null"`
	VehicleBrand string
	VehicleModel string

	// CoverageDetail is the structured item list (JSON) carried from the quote.
	CoverageDetail string `gorm:"type:text"`

	PremiumAmount    decimal.Decimal  `gorm:"type:decimal(12,2)"`
	StartDate        time.Time        `gorm:"not null"`
	EndDate          time.Time        `gorm:"not null"` // start + 1 year
	Status           PolicyStatus     `gorm:"type:varchar(20);default:'pending'"`
	PaymentFrequency PaymentFrequency `gorm:"type:varchar(20);default:'annually'"`
	NextPaymentDate  time.Time
	AutoRenewal      bool `gorm:"default:false"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Claim represents a loss event reported against a policy.
type Claim struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ClaimNumber string    `gorm:"uniqueIndex;not null"` // CLM-<year>-<6-digit-ms>
	UserID      uuid.UUID `gorm:"type:uuid;not null;index"`
	PolicyID    uuid.UUID `gorm:"type:uuid;not null;index"`

	Type             string `gorm:"type:varchar(40);not null"`
	IncidentDate     time.Time
	Description      string
	IncidentLocation string

	EstimatedAmount decimal.Decimal  `gorm:"type:decimal(12,2)"`
	Status          ClaimStatus      `gorm:"type:varchar(20);default:'pending'"`
	AdminComment    string
	SettledAmount   *decimal.Decimal `gorm:"type:decimal(12,2)"`

	CreatedAt time.Time
	UpdatedAt time.Time

	// Relations
	Files []ClaimFile
}

// ClaimFile represents a supporting document uploaded to a claim.
type ClaimFile struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ClaimID      uuid.UUID `gorm:"type:uuid;not null;index"`
	Key          string    `gorm:"not null"`
	Mime         string    `gorm:"not null"`
	Size         int       `gorm:"not null"`
	OriginalName string
	CreatedAt    time.Time

	// Relation back to claim
	Claim Claim `gorm:"foreignKey:ClaimID;references:ID"`
}

// Payment represents one premium charge or refund. A refund is always a new
// row with a negated amount and a REF-<original> transaction id, never a
// mutation of the original charge.
type Payment struct {
	ID       uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;index"`
	PolicyID uuid.UUID `gorm:"type:uuid;not null;index"`

	Amount          decimal.Decimal `gorm:"type:decimal(12,2);not null"` // negative for refunds
	Type            PaymentType     `gorm:"type:varchar(20);default:'premium'"`
	Method          string          `gorm:"type:varchar(40)"`
	TransactionID   string          `gorm:"uniqueIndex;not null"`
	GatewayResponse string          `gorm:"type:text"`

	DueDate   time.Time
	PaidAt    *time.Time
	Status    PaymentStatus `gorm:"type:varchar(20);default:'pending'"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Notification is an in-app message shown to a user.
type Notification struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index"`
	Title     string    `gorm:"not null"`
	Message   string    `gorm:"type:text"`
	Type      string    `gorm:"type:varchar(40)"`
	Read      bool      `gorm:"default:false"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// AuditLog is an audit entry for important entity changes.
type AuditLog struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Entity    string     `gorm:"type:varchar(20);not null;index"` // quote | policy | claim | payment
	EntityID  uuid.UUID  `gorm:"type:uuid;not null;index"`
	ActorID   *uuid.UUID `gorm:"type:uuid;index"` // nil for anonymous/system actions
	Action    string     `gorm:"type:varchar(50);not null"`
	OldStatus string     `gorm:"type:varchar(20)"`
	NewStatus string     `gorm:"type:varchar(20)"`
	Reason    string     `gorm:"type:text"`
	CreatedAt time.Time  `gorm:"autoCreateTime"`
}
