package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PermitStatus string

const (
	PermitPendingAICheck       PermitStatus = "PENDING_AI_CHECK"
	PermitPendingBuyerReview   PermitStatus = "PENDING_BUYER_REVIEW"
	PermitPendingAdminApproval PermitStatus = "PENDING_ADMIN_APPROVAL"
	PermitActive               PermitStatus = "ACTIVE"
	PermitDisputed             PermitStatus = "DISPUTED"
	PermitCompleted            PermitStatus = "COMPLETED"
	PermitRejected             PermitStatus = "REJECTED"
	PermitCancelled            PermitStatus = "CANCELLED"
)

func (s PermitStatus) Terminal() bool {
	return s == PermitCompleted || s == PermitRejected || s == PermitCancelled
}

// Job types carried on a permit.
const (
	JobTypeGig        = "gig"
	JobTypeInvestment = "investment"
)

type StageFlag string

const (
	StagePending StageFlag = "PENDING"
	StagePass    StageFlag = "PASS"
	StageFail    StageFlag = "FAIL"
)

type Decision string

const (
	DecisionNone     Decision = ""
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
)

// Stage names an automatic verification step.
type Stage string

const (
	StageAIPreCheck       Stage = "ai_precheck"
	StageBehaviorAnalysis Stage = "behavior_analysis"
)

type Verification struct {
	RiskScore        *int      `json:"risk_score,omitempty"`
	PreCheck         StageFlag `json:"pre_check"`
	BehaviorAnalysis StageFlag `json:"behavior_analysis"`
	PostWorkCheck    StageFlag `json:"post_work_check"`
}

// Audit actions. WORK_SUBMITTED is read back by admin approval to pick the
// release branch.
const (
	AuditPermitCreated       = "PERMIT_CREATED"
	AuditAIPreCheckPassed    = "AI_PRECHECK_PASSED"
	AuditPostWorkCheckPassed = "POST_WORK_CHECK_PASSED"
	AuditBehaviorPassed      = "BEHAVIOR_ANALYSIS_PASSED"
	AuditStageFailed         = "AI_STAGE_FAILED"
	AuditBuyerApproved       = "BUYER_APPROVED"
	AuditBuyerRejected       = "BUYER_REJECTED"
	AuditAdminAuthorized     = "ADMIN_AUTHORIZED_START"
	AuditAdminReleased       = "ADMIN_RELEASED_PAYMENT"
	AuditAdminRejected       = "ADMIN_REJECTED"
	AuditWorkSubmitted       = "WORK_SUBMITTED"
	AuditDisputeRaised       = "DISPUTE_RAISED"
	AuditDisputeReleased     = "DISPUTE_RESOLVED_RELEASE"
	AuditDisputeRefunded     = "DISPUTE_RESOLVED_REFUND"
	AuditDisputeSplit        = "DISPUTE_RESOLVED_SPLIT"
	AuditDetailsUpdated      = "DETAILS_UPDATED"
)

type AuditLogEntry struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	Actor     Actor     `json:"actor"`
}

type WorkPermit struct {
	ID              uuid.UUID       `json:"id"`
	JobReference    string          `json:"job_reference"`
	JobType         string          `json:"job_type"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	BuyerID         uuid.UUID       `json:"buyer_id"`
	WorkerID        uuid.UUID       `json:"worker_id"`
	Currency        string          `json:"currency"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	WorkerAmount    decimal.Decimal `json:"worker_amount"`
	AdminCommission decimal.Decimal `json:"admin_commission"`
	PlatformFee     decimal.Decimal `json:"platform_fee"`
	Status          PermitStatus    `json:"status"`
	PreviousStatus  PermitStatus    `json:"previous_status,omitempty"`
	EscrowLockID    uuid.UUID       `json:"escrow_lock_id"`
	Verification    Verification    `json:"verification"`
	BuyerDecision   Decision        `json:"buyer_decision,omitempty"`
	AdminDecision   Decision        `json:"admin_decision,omitempty"`
	DisputeReason   string          `json:"dispute_reason,omitempty"`
	DisputeSummary  string          `json:"dispute_summary,omitempty"`
	AuditLog        []AuditLogEntry `json:"audit_log"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// EscrowReference is the ledger reference id linking entries to this permit.
func (p *WorkPermit) EscrowReference() string {
	return p.ID.String()
}

// HasAudit reports whether action appears anywhere in the audit trail.
func (p *WorkPermit) HasAudit(action string) bool {
	for _, a := range p.AuditLog {
		if a.Action == action {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices with p.
func (p *WorkPermit) Clone() *WorkPermit {
	if p == nil {
		return nil
	}
	cp := *p
	cp.AuditLog = append([]AuditLogEntry(nil), p.AuditLog...)
	if p.Verification.RiskScore != nil {
		score := *p.Verification.RiskScore
		cp.Verification.RiskScore = &score
	}
	return &cp
}
