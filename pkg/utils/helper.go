package utils

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/assurtech/insurance-backend/pkg/models"
)

// LogAudit inserts an audit record into audit_logs.
// Used to track important status changes and actions on an entity.
// Errors are ignored on purpose (best-effort logging).
func LogAudit(
	ctx context.Context,
	db *gorm.DB,
	entity string,
	entityID uuid.UUID,
	actorID *uuid.UUID,
	action string,
	oldStatus, newStatus string,
	reason string,
) {
	_ = db.WithContext(ctx).Create(&models.AuditLog{
		Entity:    entity,
		EntityID:  entityID,
		ActorID:   actorID,
		Action:    action,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Reason:    reason,
		CreatedAt: time.Now(),
	}).Error
}

/* ========================== Reference numbers =========================== */

// Uppercase letters and digits, no lookalikes (0/O, 1/I).
const refAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func randRef(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = refAlphabet[int(b[i])%len(refAlphabet)]
	}
	return string(b)
}

// QuoteNumber builds a human-readable quote reference: QUO-<year>-<6 alnum>.
func QuoteNumber() string {
	return fmt.Sprintf("QUO-%d-%s", time.Now().Year(), randRef(6))
}

// PolicyNumber builds a policy reference: POL-<6-digit-timestamp>-<6 alnum>.
func PolicyNumber() string {
	return fmt.Sprintf("POL-%06d-%s", time.Now().Unix()%1000000, randRef(6))
}

// ClaimNumber builds a claim reference: CLM-<year>-<6-digit-ms-suffix>.
func ClaimNumber() string {
	return fmt.Sprintf("CLM-%d-%06d", time.Now().Year(), time.Now().UnixMilli()%1000000)
}

// TransactionID builds a payment transaction reference.
func TransactionID() string {
	return "PAY-" + uuid.NewString()
}
