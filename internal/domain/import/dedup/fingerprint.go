// Package dedup computes content-addressed transaction fingerprints and
// filters out rows a statement already holds.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/FACorreiaa/statement-recon/internal/domain/reconciliation"
)

// Fingerprint hashes the identity of a statement line: statement_id,
// YYYY-MM-DD, UPPER(description), amount and balance, with "-" for a missing
// balance. Each field is written as <len>:<value> so separators inside a
// field cannot shift it into its neighbour. The value depends only on
// content, so it is stable across runs and machines.
func Fingerprint(statementID string, date time.Time, description string, amountCents int64, balanceCents *int64) string {
	balance := "-"
	if balanceCents != nil {
		balance = strconv.FormatInt(*balanceCents, 10)
	}

	fields := []string{
		statementID,
		date.Format(reconciliation.DateLayout),
		strings.ToUpper(strings.Join(strings.Fields(description), " ")),
		strconv.FormatInt(amountCents, 10),
		balance,
	}

	var key strings.Builder
	for _, f := range fields {
		key.WriteString(strconv.Itoa(len(f)))
		key.WriteByte(':')
		key.WriteString(f)
	}

	sum := sha256.Sum256([]byte(key.String()))
	return hex.EncodeToString(sum[:])
}

// Assign sets the fingerprint of every transaction in place
func Assign(txs []reconciliation.Transaction) {
	for i := range txs {
		t := &txs[i]
		t.Fingerprint = Fingerprint(t.StatementID, t.Date, t.Description, t.AmountCents, t.BalanceCents)
	}
}
