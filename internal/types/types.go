// Package types provides shared type definitions used across dockhand packages.
// This package exists to break import cycles between intake, extraction,
// reconcile, commit and the pipeline orchestrator. Types in this package are
// foundational data structures with no complex dependencies.
package types

import (
	"time"
)

// UploadKind classifies what a file claims to be.
type UploadKind string

const (
	UploadReceiving     UploadKind = "receiving"
	UploadShippingLabel UploadKind = "shipping_label"
	UploadDiscrepancy   UploadKind = "discrepancy"
	UploadPartPhoto     UploadKind = "part_photo"
	UploadFinance       UploadKind = "finance"
)

// ProcessingStatus tracks an upload through the pipeline.
type ProcessingStatus string

const (
	StatusQueued     ProcessingStatus = "queued"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// QualityMetrics holds the per-image quality components behind the DQS.
type QualityMetrics struct {
	Blur     float64 `json:"blur"`     // normalized Laplacian variance, higher = sharper
	Glare    float64 `json:"glare"`    // 100 - glare penalty
	Contrast float64 `json:"contrast"` // Michelson contrast scaled to 0..100
	DQS      float64 `json:"dqs"`      // weighted blend
	Feedback string  `json:"feedback,omitempty"`
}

// Upload represents one accepted file.
type Upload struct {
	ID          string           `json:"id"`
	YachtID     string           `json:"yacht_id"`
	UploaderID  string           `json:"uploader_id"`
	Filename    string           `json:"filename"`
	MIMEType    string           `json:"mime_type"`
	SizeBytes   int64            `json:"size_bytes"`
	SHA256      string           `json:"sha256"`
	StoragePath string           `json:"storage_path"`
	Kind        UploadKind       `json:"kind"`
	Status      ProcessingStatus `json:"status"`
	Quality     *QualityMetrics  `json:"quality,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// OCRFragment is one recognized text span with its bounding box.
type OCRFragment struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
}

// OCRResult is the uniform output of every OCR engine.
type OCRResult struct {
	Text           string            `json:"text"`
	Confidence     float64           `json:"confidence"`
	Fragments      []OCRFragment     `json:"fragments,omitempty"`
	Engine         string            `json:"engine"`
	ProcessingTime time.Duration     `json:"processing_time"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// DocumentKind classifies a scanned document.
type DocumentKind string

const (
	DocPackingList   DocumentKind = "packing_list"
	DocInvoice       DocumentKind = "invoice"
	DocPurchaseOrder DocumentKind = "purchase_order"
	DocWorkOrder     DocumentKind = "work_order"
	DocUnknown       DocumentKind = "unknown"
)

// Classification is the result of document kind detection.
type Classification struct {
	Kind       DocumentKind `json:"kind"`
	Confidence float64      `json:"confidence"`
	Indicators []string     `json:"indicators,omitempty"`
}

// LineConfidence buckets per-line extraction certainty.
type LineConfidence string

const (
	ConfidenceHigh   LineConfidence = "high"
	ConfidenceMedium LineConfidence = "medium"
	ConfidenceLow    LineConfidence = "low"
)

// LineItem is one extracted draft line awaiting verification.
type LineItem struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	Sequence    int             `json:"sequence"` // 1-based
	Quantity    float64         `json:"quantity"`
	Unit        string          `json:"unit"`
	Description string          `json:"description"`
	PartNumber  string          `json:"part_number,omitempty"`
	UnitPrice   float64         `json:"unit_price,omitempty"`
	Confidence  LineConfidence  `json:"confidence"`
	Source      string          `json:"source"` // "regex" or "llm"
	RawText     string          `json:"raw_text"`
	Verified    bool            `json:"is_verified"`
	VerifiedBy  string          `json:"verified_by,omitempty"`
	VerifiedAt  *time.Time      `json:"verified_at,omitempty"`
	Suggestion  *SuggestedMatch `json:"suggested_part,omitempty"`
	Discrepancy *Discrepancy    `json:"discrepancy,omitempty"`
}

// MatchReason explains how a catalog suggestion was found.
type MatchReason string

const (
	MatchExactPartNumber MatchReason = "exact_part_number"
	MatchFuzzyPartNumber MatchReason = "fuzzy_part_number"
	MatchFuzzyDesc       MatchReason = "fuzzy_description"
	MatchOnShoppingList  MatchReason = "on_shopping_list"
	MatchRecentOrder     MatchReason = "recent_order"
	MatchUserOverride    MatchReason = "user_override"
)

// SuggestedMatch ties a draft line to a catalog part.
type SuggestedMatch struct {
	PartID          string               `json:"part_id"`
	PartNumber      string               `json:"part_number"`
	Name            string               `json:"name"`
	Manufacturer    string               `json:"manufacturer,omitempty"`
	Confidence      float64              `json:"confidence"`
	Reason          MatchReason          `json:"match_reason"`
	QuantityOnHand  float64              `json:"quantity_on_hand"`
	StorageLocation string               `json:"storage_location,omitempty"`
	Alternatives    []SuggestedMatch     `json:"alternatives,omitempty"`
	ShoppingList    *ShoppingListMatch   `json:"shopping_list,omitempty"`
	RecentOrder     *RecentOrderMatch    `json:"recent_order,omitempty"`
}

// ShoppingListMatch records partial fulfillment of a requested item.
type ShoppingListMatch struct {
	ItemID                string  `json:"item_id"`
	RequestedQuantity     float64 `json:"requested_quantity"`
	ApprovedQuantity      float64 `json:"approved_quantity"`
	ReceivedQuantity      float64 `json:"received_quantity"`
	Status                string  `json:"status"`
	FulfillmentPercentage float64 `json:"fulfillment_percentage"`
}

// RecentOrderMatch records a purchase order line for the same part.
type RecentOrderMatch struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	Quantity    float64   `json:"quantity"`
	UnitPrice   float64   `json:"unit_price,omitempty"`
	OrderedAt   time.Time `json:"ordered_at"`
}

// DiscrepancySeverity buckets the shortage ratio.
type DiscrepancySeverity string

const (
	SeverityLow    DiscrepancySeverity = "low"
	SeverityMedium DiscrepancySeverity = "medium"
	SeverityHigh   DiscrepancySeverity = "high"
)

// Discrepancy records an expected-vs-received mismatch.
// Shortage is negative on overage.
type Discrepancy struct {
	Expected float64             `json:"expected"`
	Received float64             `json:"received"`
	Shortage float64             `json:"shortage"`
	Severity DiscrepancySeverity `json:"severity"`
}

// SessionStatus is the lifecycle of a receiving session.
type SessionStatus string

const (
	SessionDraft     SessionStatus = "draft"
	SessionCommitted SessionStatus = "committed"
	SessionCancelled SessionStatus = "cancelled"
)

// ProcessingSummary aggregates what the pipeline did for one session.
type ProcessingSummary struct {
	LinesExtracted int     `json:"lines_extracted"`
	LinesVerified  int     `json:"lines_verified"`
	LLMCalls       int     `json:"llm_calls"`
	TotalCostUSD   float64 `json:"total_cost_usd"`
	PrimaryMethod  string  `json:"primary_method"` // "regex" or "llm"
	Coverage       float64 `json:"coverage"`
}

// ReceivingSession is the mutable batch of draft lines for one tenant.
type ReceivingSession struct {
	ID            string            `json:"id"`
	YachtID       string            `json:"yacht_id"`
	Number        string            `json:"session_number"` // RCV-YYYY-NNN
	Status        SessionStatus     `json:"status"`
	CreatedBy     string            `json:"created_by"`
	UploadIDs     []string          `json:"upload_ids"`
	Lines         []LineItem        `json:"lines,omitempty"`
	Summary       ProcessingSummary `json:"processing_summary"`
	EventID       string            `json:"event_id,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	CommittedAt   *time.Time        `json:"committed_at,omitempty"`
	CommittedBy   string            `json:"committed_by,omitempty"`
}

// ReceivingEvent is the immutable record produced at commit.
type ReceivingEvent struct {
	ID             string    `json:"id"`
	YachtID        string    `json:"yacht_id"`
	SessionID      string    `json:"session_id"`
	Number         string    `json:"event_number"` // RCV-EVT-YYYY-NNN
	CommittedBy    string    `json:"committed_by"`
	Notes          string    `json:"notes,omitempty"`
	LinesCommitted int       `json:"lines_committed"`
	TotalCost      float64   `json:"total_cost,omitempty"`
	Signature      string    `json:"signature"`
	CreatedAt      time.Time `json:"created_at"`
}

// Part is a catalog entry with its inventory snapshot.
type Part struct {
	ID              string  `json:"id"`
	YachtID         string  `json:"yacht_id"`
	PartNumber      string  `json:"part_number"`
	Name            string  `json:"name"`
	Manufacturer    string  `json:"manufacturer,omitempty"`
	StorageLocation string  `json:"storage_location,omitempty"`
	QuantityOnHand  float64 `json:"quantity_on_hand"`
	MinimumQuantity float64 `json:"minimum_quantity"`
	Version         int64   `json:"version"`
}

// InventoryTransaction is an immutable stock movement record.
type InventoryTransaction struct {
	ID            string    `json:"id"`
	YachtID       string    `json:"yacht_id"`
	PartID        string    `json:"part_id"`
	QuantityDelta float64   `json:"quantity_delta"`
	Kind          string    `json:"kind"` // receiving | deduction | adjustment
	ReferenceID   string    `json:"reference_id"`
	ReferenceKind string    `json:"reference_kind"`
	ActorID       string    `json:"actor_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// FinanceTransaction is an immutable expense record for a priced line.
type FinanceTransaction struct {
	ID        string    `json:"id"`
	YachtID   string    `json:"yacht_id"`
	EventID   string    `json:"event_id"`
	Kind      string    `json:"kind"` // expense
	Category  string    `json:"category"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	ActorID   string    `json:"actor_id"`
	Signature string    `json:"signature"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditEntry is an append-only action record with a content signature.
type AuditEntry struct {
	ID         string    `json:"id"`
	YachtID    string    `json:"yacht_id"`
	ActorID    string    `json:"actor_id"`
	Action     string    `json:"action"`
	EntityKind string    `json:"entity_kind"`
	EntityID   string    `json:"entity_id"`
	OldValue   string    `json:"old_value,omitempty"` // JSON snapshot
	NewValue   string    `json:"new_value,omitempty"` // JSON snapshot
	Signature  string    `json:"signature"`
	CreatedAt  time.Time `json:"created_at"`
}

// Order is a purchase order header.
type Order struct {
	ID          string    `json:"id"`
	YachtID     string    `json:"yacht_id"`
	OrderNumber string    `json:"order_number"`
	Vendor      string    `json:"vendor,omitempty"`
	OrderedAt   time.Time `json:"ordered_at"`
}

// ShoppingItem is one shopping-list entry.
type ShoppingItem struct {
	ID                string  `json:"id"`
	YachtID           string  `json:"yacht_id"`
	OrderID           string  `json:"order_id,omitempty"`
	PartID            string  `json:"part_id"`
	RequestedQuantity float64 `json:"requested_quantity"`
	ApprovedQuantity  float64 `json:"approved_quantity"`
	ReceivedQuantity  float64 `json:"received_quantity"`
	Status            string  `json:"status"` // pending | approved | ordered | received
}

// ExtractedEntities are document-level fields pulled from OCR text.
type ExtractedEntities struct {
	OrderNumber    string  `json:"order_number,omitempty"`
	TrackingNumber string  `json:"tracking_number,omitempty"`
	Confidence     float64 `json:"confidence"`
}

// LowStockAlert flags a part left under its minimum after commit.
type LowStockAlert struct {
	PartID          string  `json:"part_id"`
	PartNumber      string  `json:"part_number"`
	QuantityOnHand  float64 `json:"quantity_on_hand"`
	MinimumQuantity float64 `json:"minimum_quantity"`
	Shortage        float64 `json:"shortage"`
}
