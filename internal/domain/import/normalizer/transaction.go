// Package normalizer converts segmented statement blocks into canonical
// transactions: calendar dates, signed integer cents and a clean description.
package normalizer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/FACorreiaa/statement-recon/internal/domain/import/parser"
	"github.com/FACorreiaa/statement-recon/internal/domain/reconciliation"
	"github.com/FACorreiaa/statement-recon/pkg/fold"
	"github.com/FACorreiaa/statement-recon/pkg/money"
)

// Reasons reported by MalformedTransactionError
const (
	ReasonDate        = "unparseable date"
	ReasonAmount      = "unparseable amount"
	ReasonDescription = "missing description"
	ReasonSummaryLine = "summary line"
)

var (
	dateTokenRe = regexp.MustCompile(`^(\d{2})/(\d{2})(?:/(\d{2}|\d{4}))?$`)
	referenceRe = regexp.MustCompile(`^\d{10,}$`)
	countryRe   = regexp.MustCompile(`^[A-Z]{2}$`)
)

// MalformedTransactionError means a block could not become a transaction.
// The rest of the document is unaffected.
type MalformedTransactionError struct {
	Block  parser.Block
	Reason string
}

func (e *MalformedTransactionError) Error() string {
	return fmt.Sprintf("block %d (page %d): %s", e.Block.Index, e.Block.Page, e.Reason)
}

// StatementContext is the document-level information every row needs
type StatementContext struct {
	StatementID string
	Layout      parser.Layout
	// Period anchors dates printed without a year
	PeriodYear  int
	PeriodMonth time.Month
	Currency    string
}

// Normalize turns one block into a transaction. Fingerprint and category are
// left for later stages.
func Normalize(block parser.Block, sc StatementContext) (reconciliation.Transaction, error) {
	malformed := func(reason string) (reconciliation.Transaction, error) {
		return reconciliation.Transaction{}, &MalformedTransactionError{Block: block, Reason: reason}
	}
	if len(block.Lines) == 0 {
		return malformed(ReasonDate)
	}

	first := markersJoined(strings.Fields(block.Lines[0]))
	dateIdx := -1
	for i, tok := range first {
		if dateTokenRe.MatchString(tok) {
			dateIdx = i
			break
		}
	}
	if dateIdx < 0 {
		return malformed(ReasonDate)
	}
	date, ok := parseDate(first[dateIdx], sc)
	if !ok {
		return malformed(ReasonDate)
	}

	format := sc.Layout.NumberFormat
	var continuation []string
	for _, l := range block.Lines[1:] {
		continuation = append(continuation, strings.Fields(l)...)
	}

	// amounts sit at the end of the first line, or on a trailing line of
	// their own when the description wraps
	body := first[dateIdx+1:]
	amounts := trailingAmounts(body, format)
	if len(amounts) == 0 && len(block.Lines) > 1 {
		lastFields := strings.Fields(block.Lines[len(block.Lines)-1])
		last := markersJoined(lastFields)
		if amounts = trailingAmounts(last, format); len(amounts) > 0 {
			continuation = continuation[:len(continuation)-len(lastFields)]
			continuation = append(continuation, last[:len(last)-len(amounts)]...)
		}
	} else {
		body = body[:len(body)-len(amounts)]
	}
	if len(amounts) == 0 {
		return malformed(ReasonAmount)
	}

	tx := reconciliation.Transaction{
		StatementID: sc.StatementID,
		Date:        date,
		Currency:    sc.Currency,
		Category:    reconciliation.DefaultCategory,
	}
	if tx.Currency == "" {
		tx.Currency = reconciliation.CurrencyUSD
	}

	amountTok := amounts[len(amounts)-1]
	var secondTok string
	if len(amounts) >= 2 {
		secondTok = amounts[len(amounts)-2]
	}

	switch {
	case sc.Layout.HasBalance && secondTok != "":
		balance, err := money.ParseCents(amountTok, format)
		if err != nil {
			return malformed(ReasonAmount)
		}
		tx.BalanceCents = &balance
		amountTok = secondTok
		body = append(body, amounts[:len(amounts)-2]...)
	case sc.Layout.International && secondTok != "":
		original, err := signedAmount(secondTok, sc.Layout)
		if err != nil {
			return malformed(ReasonAmount)
		}
		tx.OriginalAmountCents = &original
		body = append(body, amounts[:len(amounts)-2]...)
	default:
		body = append(body, amounts[:len(amounts)-1]...)
	}

	amount, err := signedAmount(amountTok, sc.Layout)
	if err != nil {
		return malformed(ReasonAmount)
	}
	tx.AmountCents = amount

	if sc.Layout.International {
		if dateIdx > 0 && referenceRe.MatchString(first[dateIdx-1]) {
			tx.Reference = first[dateIdx-1]
		}
		var desc []string
		desc, tx.City, tx.Country = splitPlace(body)
		body = desc
	}

	tx.Description = strings.Join(append(body, continuation...), " ")
	if tx.Description == "" {
		return malformed(ReasonDescription)
	}
	if strings.HasPrefix(Fold(tx.Description), "TOTAL") {
		return malformed(ReasonSummaryLine)
	}
	return tx, nil
}

// Fold returns the accent-free upper-case form used for matching.
// Stored descriptions keep their original characters.
func Fold(s string) string {
	return fold.Upper(strings.Join(strings.Fields(s), " "))
}

// signedAmount applies explicit CR/DB markers first, then the layout's
// debit convention for unmarked amounts.
func signedAmount(tok string, layout parser.Layout) (int64, error) {
	cents, marker, err := money.ParseMarked(tok, layout.NumberFormat)
	if err != nil {
		return 0, err
	}
	if marker == money.MarkerNone && layout.DebitsPositive {
		cents = -cents
	}
	return cents, nil
}

func parseDate(tok string, sc StatementContext) (time.Time, bool) {
	m := dateTokenRe.FindStringSubmatch(tok)
	if m == nil {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}

	var year int
	switch len(m[3]) {
	case 2:
		yy, _ := strconv.Atoi(m[3])
		year = 2000 + yy
	case 4:
		year, _ = strconv.Atoi(m[3])
	default:
		year = sc.PeriodYear
		if year == 0 {
			year = time.Now().Year()
		}
		// a month after the period month belongs to the previous year
		if sc.PeriodMonth != 0 && time.Month(month) > sc.PeriodMonth {
			year--
		}
	}

	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Day() != day || d.Month() != time.Month(month) {
		return time.Time{}, false
	}
	return d, true
}

// trailingAmounts returns the run of amount tokens at the end of tokens
func trailingAmounts(tokens []string, format money.NumberFormat) []string {
	i := len(tokens)
	for i > 0 && money.IsAmountToken(tokens[i-1], format) {
		i--
	}
	return tokens[i:]
}

// markersJoined attaches standalone sign markers ("45.30 CR") to the amount
// before them.
func markersJoined(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		switch strings.ToUpper(tok) {
		case "CR", "DB", "-":
			if n := len(out); n > 0 && startsWithDigit(out[n-1]) {
				out[n-1] += strings.ToUpper(tok)
				continue
			}
		}
		out = append(out, tok)
	}
	return out
}

func startsWithDigit(s string) bool {
	s = strings.TrimLeft(s, "-($US€")
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

// splitPlace peels the country code and city off the end of an international
// description. The city takes up to three tokens when enough remain.
func splitPlace(tokens []string) (desc []string, city, country string) {
	if len(tokens) == 0 || !countryRe.MatchString(tokens[len(tokens)-1]) {
		return tokens, "", ""
	}
	country = tokens[len(tokens)-1]
	before := tokens[:len(tokens)-1]
	if len(before) <= 1 {
		return before, "", country
	}

	n := 1
	if len(before) > 3 {
		n = 3
	}
	cityTokens := before[len(before)-n:]
	desc = before[:len(before)-n]
	if len(desc) == 0 {
		return before, "", country
	}
	return desc, strings.Join(cityTokens, " "), country
}
