// Package export produces operator-facing XLSX reports of price history.
package export

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

// PriceRow is one exported price observation with its catalog context.
type PriceRow struct {
	Store        string
	Product      string
	Attributes   string
	ExternalID   string
	PriceInCents int
	InStock      bool
	ObservedAt   time.Time
}

// QueryPriceHistory reads price history through a plain database/sql
// connection. Listings without history are omitted; rows come back newest
// first per variant.
func QueryPriceHistory(ctx context.Context, db *sql.DB, storeHandle string, since time.Time) ([]PriceRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT st.handle, pr.name, pv.attributes_key, sl.external_listing_id,
		       p.price_in_cents, p.in_stock, p.observed_at
		FROM prices p
		JOIN product_variant_listings pvl ON pvl.id = p.product_variant_listing_id
		JOIN product_variants pv ON pv.id = pvl.product_variant_id
		JOIN products pr ON pr.id = pv.product_id
		JOIN store_listings sl ON sl.id = pvl.store_listing_id
		JOIN stores st ON st.id = sl.store_id
		WHERE ($1 = '' OR st.handle = $1) AND p.observed_at >= $2
		ORDER BY st.handle, pr.name, pv.attributes_key, p.observed_at DESC
	`, storeHandle, since)
	if err != nil {
		return nil, fmt.Errorf("querying price history: %w", err)
	}
	defer rows.Close()

	var out []PriceRow
	for rows.Next() {
		var r PriceRow
		if err := rows.Scan(&r.Store, &r.Product, &r.Attributes, &r.ExternalID, &r.PriceInCents, &r.InStock, &r.ObservedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const sheetName = "Price History"

// BuildWorkbook renders price rows into an XLSX workbook.
func BuildWorkbook(rows []PriceRow) (*excelize.File, error) {
	f := excelize.NewFile()
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("removing default sheet: %w", err)
	}

	headers := []string{"Store", "Product", "Variant", "External ID", "Price", "In Stock", "Observed At"}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return nil, err
		}
	}

	for rowIdx, r := range rows {
		values := []any{
			r.Store,
			r.Product,
			r.Attributes,
			r.ExternalID,
			float64(r.PriceInCents) / 100,
			r.InStock,
			r.ObservedAt.UTC().Format(time.RFC3339),
		}
		for colIdx, v := range values {
			cell, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return nil, err
			}
		}
	}

	return f, nil
}

// WriteXLSX renders the rows and saves the workbook to path.
func WriteXLSX(rows []PriceRow, path string) error {
	f, err := BuildWorkbook(rows)
	if err != nil {
		return err
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	return f.Close()
}
