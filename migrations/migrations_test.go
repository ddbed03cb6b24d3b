package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatements_Idempotent(t *testing.T) {
	for _, stmt := range Statements() {
		assert.Contains(t, stmt, "IF NOT EXISTS", stmt)
	}
}

func TestStatements_CreatesReferencedTablesFirst(t *testing.T) {
	order := map[string]int{}
	for i, stmt := range Statements() {
		if strings.HasPrefix(stmt, "CREATE TABLE IF NOT EXISTS ") {
			name := strings.Fields(strings.TrimPrefix(stmt, "CREATE TABLE IF NOT EXISTS "))[0]
			order[name] = i
		}
	}
	for _, name := range []string{"wallets", "payment_transactions", "refunds", "usage_ledger", "wallet_transactions", "billable_actions", "usage_charges"} {
		assert.Contains(t, order, name)
	}
	assert.Less(t, order["wallets"], order["payment_transactions"])
	assert.Less(t, order["payment_transactions"], order["refunds"])
	assert.Less(t, order["usage_ledger"], order["wallet_transactions"])
	assert.Less(t, order["refunds"], order["wallet_transactions"])
}

func TestStatements_OpenRefundGuard(t *testing.T) {
	var found bool
	for _, stmt := range Statements() {
		if strings.Contains(stmt, "uq_refunds_open_per_payment") {
			found = true
			assert.Contains(t, stmt, "WHERE status IN ('pending', 'approved')")
		}
	}
	assert.True(t, found)
}
