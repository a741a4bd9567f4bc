package ai

import "fmt"

// ordersSchemaDescription describes the archive table written by
// cache.ClickHouseArchive. Keep it in sync with ensureTable there.
const ordersSchemaDescription = `
Database: %[1]s
Table: swap_orders

Columns:
  - order_id     String                    -- unique order id (uuid)
  - maker        String                    -- wallet address that signed the order
  - from_token   String                    -- KRC20 ticker the maker gives, e.g. "NACHO"
  - to_token     String                    -- KRC20 ticker the maker wants, e.g. "KASPY"
  - from_amount  Float64                   -- amount of from_token in human units
  - to_amount    Float64                   -- amount of to_token in human units
  - status       LowCardinality(String)    -- final status: completed, cancelled or pending (pending rows expired)
  - matched_with String                    -- counter order id, empty when never matched
  - created_at   DateTime64(3, 'UTC')      -- order creation time
  - expires_at   DateTime64(3, 'UTC')      -- order expiry time
  - updated_at   DateTime64(3, 'UTC')      -- last status change

Notes:
  - Each order appears once, written when it leaves the live book.
  - A pair is directional: from_token/to_token.
  - Implied rate of an order is to_amount / from_amount.
  - Time filters should use created_at, e.g. created_at >= now() - INTERVAL 24 HOUR.
`

// Schema describes the orders archive table in database for prompts and operators.
func Schema(database string) string {
	return fmt.Sprintf(ordersSchemaDescription, database)
}
