package importer

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yutaoyuan/crm-system-sub000/internal/crm"
)

// Kind selects the record type an import file produces.
type Kind string

const (
	KindSales  Kind = "sales"
	KindLedger Kind = "ledger"
)

// ParseKind accepts the public kind names and a few singular spellings.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sales", "sale":
		return KindSales, nil
	case "ledger", "points", "point":
		return KindLedger, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
}

// Record is one normalized row. Exactly one of Sale and Entry is set.
type Record struct {
	Row   int
	Phone string
	Sale  *crm.Sale
	Entry *crm.LedgerEntry
}

// CustomerID returns the customer the record is linked to, if any.
func (r Record) CustomerID() *uuid.UUID {
	switch {
	case r.Sale != nil:
		return r.Sale.CustomerID
	case r.Entry != nil:
		return r.Entry.CustomerID
	}
	return nil
}

func (r *Record) link(ref crm.CustomerRef) {
	id := ref.ID
	switch {
	case r.Sale != nil:
		r.Sale.CustomerID = &id
		if ref.Name != "" {
			r.Sale.CustomerName = ref.Name
		}
	case r.Entry != nil:
		r.Entry.CustomerID = &id
		if ref.Name != "" {
			r.Entry.CustomerName = ref.Name
		}
	}
}

func (r *Record) tag(importID string) {
	switch {
	case r.Sale != nil:
		r.Sale.Source = "import"
		r.Sale.ImportID = importID
	case r.Entry != nil:
		r.Entry.Source = "import"
		r.Entry.ImportID = importID
	}
}

// Normalizer turns raw rows into records. Now supplies the date used for ledger rows
// without one.
type Normalizer struct {
	Now func() time.Time
}

func NewNormalizer() *Normalizer {
	return &Normalizer{Now: time.Now}
}

// Normalize converts one row. A returned error is always a *ValidationFailure; warnings
// are already rendered with the row number.
func (n *Normalizer) Normalize(kind Kind, row Row) (Record, []string, error) {
	switch kind {
	case KindLedger:
		return n.ledger(row)
	case KindSales:
		return n.sale(row)
	}
	return Record{}, nil, &ValidationFailure{Row: row.Number, Reason: fmt.Sprintf("unknown import kind %q", kind)}
}

func (n *Normalizer) ledger(row Row) (Record, []string, error) {
	var warnings []string
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf("row %d: ", row.Number)+fmt.Sprintf(format, args...))
	}

	phone := crm.NormalizePhone(row.Get(FieldPhone))
	if phone == "" {
		warn("phone missing, entry kept without customer")
	}

	var points int64
	if raw := row.Get(FieldPoints); raw == "" {
		warn("points missing, defaulted to 0")
	} else {
		value, err := parsePoints(raw)
		if err != nil {
			return Record{}, nil, &ValidationFailure{Row: row.Number, Field: FieldPoints, Reason: parseFailure(raw, err)}
		}
		points = value
	}

	date := n.today()
	if raw := row.Get(FieldDate); raw == "" {
		warn("date missing, defaulted to %s", date)
	} else {
		parsed, err := parseDate(raw)
		if err != nil {
			return Record{}, nil, &ValidationFailure{Row: row.Number, Field: FieldDate, Reason: fmt.Sprintf("cannot parse %q", raw)}
		}
		date = parsed.Format(crm.DateLayout)
	}

	var stated crm.Channel
	if raw := row.Get(FieldChannel); raw != "" {
		ch, ok := mapChannel(raw)
		if !ok {
			warn("unknown channel %q, inferred from points", raw)
		}
		stated = ch
	}

	name := row.Get(FieldName)
	if name == "" {
		name = crm.PlaceholderName
	}

	entry := &crm.LedgerEntry{
		CustomerName:  name,
		CustomerPhone: phone,
		Channel:       crm.InferChannel(stated, points),
		Points:        points,
		Date:          date,
		Notes:         row.Get(FieldNotes),
		Operator:      row.Get(FieldOperator),
	}
	return Record{Row: row.Number, Phone: phone, Entry: entry}, warnings, nil
}

func (n *Normalizer) sale(row Row) (Record, []string, error) {
	fail := func(field Field, reason string) (Record, []string, error) {
		return Record{}, nil, &ValidationFailure{Row: row.Number, Field: field, Reason: reason}
	}

	name := row.Get(FieldName)
	if name == "" {
		return fail(FieldName, "required")
	}
	rawPhone := row.Get(FieldPhone)
	phone := crm.NormalizePhone(rawPhone)
	if phone == "" {
		if rawPhone == "" {
			return fail(FieldPhone, "required")
		}
		return fail(FieldPhone, fmt.Sprintf("no digits in %q", rawPhone))
	}

	rawDate := row.Get(FieldDate)
	if rawDate == "" {
		return fail(FieldDate, "required")
	}
	date, err := parseDate(rawDate)
	if err != nil {
		return fail(FieldDate, fmt.Sprintf("cannot parse %q", rawDate))
	}

	amount := decimal.Zero
	if raw := row.Get(FieldAmount); raw != "" {
		amount, err = parseAmount(raw)
		if err != nil {
			return fail(FieldAmount, parseFailure(raw, err))
		}
	}

	rawQty := row.Get(FieldQuantity)
	quantity, err := parseQuantity(rawQty)
	if err != nil {
		return fail(FieldQuantity, parseFailure(rawQty, err))
	}
	if quantity < 1 {
		return fail(FieldQuantity, fmt.Sprintf("must be at least 1, got %d", quantity))
	}

	sale := &crm.Sale{
		CustomerName:  name,
		CustomerPhone: phone,
		Date:          date.Format(crm.DateLayout),
		Store:         row.Get(FieldStore),
		Staff:         row.Get(FieldOperator),
		Notes:         row.Get(FieldNotes),
		TotalAmount:   amount,
		Items: []crm.SaleItem{{
			ProductCode: row.Get(FieldProductCode),
			Size:        row.Get(FieldSize),
			Quantity:    quantity,
			Amount:      amount,
		}},
	}
	return Record{Row: row.Number, Phone: phone, Sale: sale}, nil, nil
}

func (n *Normalizer) today() string {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	return now().Format(crm.DateLayout)
}
