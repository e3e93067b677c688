package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Oracle struct {
	Name string
	SQL  string
	Args []any
}

// Settings are the runtime limits the invariants are checked against.
type Settings struct {
	MonthlyFeeLimit decimal.Decimal
	StrictLimit     bool
	DisputeWindow   string // postgres interval literal, e.g. '48 hours'
}

func All(s Settings) []Oracle {
	out := []Oracle{
		{
			Name: "O1_single_global_commission",
			SQL: `SELECT COUNT(*) FROM commission_masters
                  WHERE applied_globally HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_audit_create_row",
			SQL: `SELECT c.id FROM contracts c
                  WHERE NOT EXISTS (
                      SELECT 1 FROM contract_details_logs l
                      WHERE l.contract_id = c.id AND l.operation = 'CREATE')`,
		},
		{
			Name: "O3_audit_update_per_change",
			SQL: `SELECT c.id FROM contracts c
                  WHERE c.last_modified_at > c.created_at
                    AND NOT EXISTS (
                      SELECT 1 FROM contract_details_logs l
                      WHERE l.contract_id = c.id AND l.operation = 'UPDATE')`,
		},
		{
			Name: "O4_escrow_stamp_set_once",
			SQL: `SELECT c.id, c.escrow_status_updated_at, l.stamp FROM contracts c
                  JOIN LATERAL (
                      SELECT (new_data->>'escrowStatusUpdatedAt')::timestamptz AS stamp
                      FROM contract_details_logs
                      WHERE contract_id = c.id AND new_data ? 'escrowStatusUpdatedAt'
                      ORDER BY id LIMIT 1) l ON true
                  WHERE c.escrow_status_updated_at IS DISTINCT FROM l.stamp`,
		},
		{
			Name: "O5_escrow_without_stamp",
			SQL: `SELECT id FROM contracts
                  WHERE status IN ('Escrow','Dispute') AND escrow_status_updated_at IS NULL`,
		},
		{
			Name: "O6_dispute_inside_window",
			SQL: `SELECT d.id FROM disputes d
                  JOIN contracts c ON c.id = d.contract_id
                  WHERE c.escrow_status_updated_at IS NULL
                     OR d.dispute_date_time > c.escrow_status_updated_at + $1::interval`,
			Args: []any{s.DisputeWindow},
		},
		{
			Name: "O7_dispute_raised_by_party",
			SQL: `SELECT d.id FROM disputes d
                  JOIN contracts c ON c.id = d.contract_id
                  WHERE d.dispute_raised_by IS DISTINCT FROM c.buyer_id
                    AND d.dispute_raised_by IS DISTINCT FROM c.seller_id`,
		},
		{
			Name: "O8_fee_conservation",
			SQL: `SELECT id FROM contracts
                  WHERE buyer_payable_amount::numeric - seller_payable_amount::numeric
                        <> escrow_tax + tax_amount`,
		},
		{
			Name: "O9_audit_append_only",
			SQL: `SELECT 'missing_worm_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'contract_details_logs_worm')`,
		},
	}
	if s.StrictLimit && s.MonthlyFeeLimit.IsPositive() {
		out = append(out, Oracle{
			Name: "O10_monthly_fee_cap",
			SQL: `SELECT creator_id, date_trunc('month', created_at), SUM(fee_amount)
                  FROM contracts
                  GROUP BY creator_id, date_trunc('month', created_at)
                  HAVING SUM(fee_amount) > $1::numeric`,
			Args: []any{s.MonthlyFeeLimit.String()},
		})
	}
	return out
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool, s Settings) (string, string, error) {
	for _, o := range All(s) {
		rows, err := pool.Query(ctx, o.SQL, o.Args...)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
