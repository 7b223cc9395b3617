package handlers

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/xuri/excelize/v2"

	"leadledger/internal/ledger"
)

// parseWinRateQuery reads from_week/to_week (YYYY-MM-DD), dimension,
// intent_type and min_denominator from query args.
func parseWinRateQuery(ctx *fasthttp.RequestCtx) (ledger.WinRateQuery, error) {
	q := ledger.WinRateQuery{
		Dimension:  string(ctx.QueryArgs().Peek("dimension")),
		IntentType: string(ctx.QueryArgs().Peek("intent_type")),
	}
	if q.Dimension == "" {
		q.Dimension = ledger.DimensionSource
	}

	from, err := time.Parse("2006-01-02", string(ctx.QueryArgs().Peek("from_week")))
	if err != nil {
		return q, fmt.Errorf("from_week must be YYYY-MM-DD")
	}
	to, err := time.Parse("2006-01-02", string(ctx.QueryArgs().Peek("to_week")))
	if err != nil {
		return q, fmt.Errorf("to_week must be YYYY-MM-DD")
	}
	q.FromWeek = from
	q.ToWeek = to

	if v := string(ctx.QueryArgs().Peek("min_denominator")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, fmt.Errorf("min_denominator must be a non-negative integer")
		}
		q.MinDenominator = n
	}
	return q, nil
}

// WinRates serves weekly win-rate rows for the authenticated tenant.
func WinRates(store *ledger.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		tenant, ok := MustTenant(ctx)
		if !ok {
			return
		}

		q, err := parseWinRateQuery(ctx)
		if err != nil {
			badRequest(ctx, err.Error())
			return
		}

		rows, err := store.WinRates(ctx, tenant.ID, q)
		if err != nil {
			errResponse(ctx, err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"rows": rows})
	}
}

// ExportWinRates serves the same rows as a spreadsheet download, XLSX by
// default or CSV with format=csv.
func ExportWinRates(store *ledger.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		tenant, ok := MustTenant(ctx)
		if !ok {
			return
		}

		q, err := parseWinRateQuery(ctx)
		if err != nil {
			badRequest(ctx, err.Error())
			return
		}

		rows, err := store.WinRates(ctx, tenant.ID, q)
		if err != nil {
			errResponse(ctx, err)
			return
		}

		keyHeader := "Source"
		if q.Dimension == ledger.DimensionGeo {
			keyHeader = "Geography"
		}
		basename := fmt.Sprintf("win-rates-%s-%s",
			q.FromWeek.Format("2006-01-02"), q.ToWeek.Format("2006-01-02"))

		if string(ctx.QueryArgs().Peek("format")) == "csv" {
			writeWinRatesCSV(ctx, keyHeader, basename, rows)
			return
		}

		f := excelize.NewFile()
		defer f.Close()
		sheet := "Win Rates"
		f.SetSheetName("Sheet1", sheet)

		headers := []string{"Week", keyHeader, "Intent", "Leads Entered", "Appointments", "Won", "Lost", "Win Rate"}
		for i, h := range headers {
			cell, _ := excelize.CoordinatesToCellName(i+1, 1)
			f.SetCellValue(sheet, cell, h)
		}

		for i, row := range rows {
			values := []any{
				row.WeekStart.Format("2006-01-02"),
				row.Key,
				row.IntentType,
				row.LeadsEntered,
				row.LeadsWithAppointment,
				row.Won,
				row.Lost,
			}
			for j, v := range values {
				cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
				f.SetCellValue(sheet, cell, v)
			}
			rateCell, _ := excelize.CoordinatesToCellName(len(values)+1, i+2)
			if row.WinRate != nil {
				f.SetCellValue(sheet, rateCell, *row.WinRate)
			}
		}

		buf, err := f.WriteToBuffer()
		if err != nil {
			errResponse(ctx, err)
			return
		}

		ctx.Response.Header.Set("Content-Disposition", `attachment; filename="`+basename+`.xlsx"`)
		ctx.SetContentType("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBody(buf.Bytes())
	}
}

func writeWinRatesCSV(ctx *fasthttp.RequestCtx, keyHeader, basename string, rows []ledger.WinRateRow) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"week", strings.ToLower(keyHeader), "intent", "leads_entered", "appointments", "won", "lost", "win_rate"})
	for _, row := range rows {
		rate := ""
		if row.WinRate != nil {
			rate = strconv.FormatFloat(*row.WinRate, 'f', 4, 64)
		}
		_ = w.Write([]string{
			row.WeekStart.Format("2006-01-02"),
			row.Key,
			row.IntentType,
			strconv.FormatInt(row.LeadsEntered, 10),
			strconv.FormatInt(row.LeadsWithAppointment, 10),
			strconv.FormatInt(row.Won, 10),
			strconv.FormatInt(row.Lost, 10),
			rate,
		})
	}
	w.Flush()

	ctx.Response.Header.Set("Content-Disposition", `attachment; filename="`+basename+`.csv"`)
	ctx.SetContentType("text/csv")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(buf.Bytes())
}
