package importer

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/yutaoyuan/crm-system-sub000/internal/crm"
)

func fixedNormalizer() *Normalizer {
	return &Normalizer{Now: func() time.Time { return time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC) }}
}

func row(number int, values map[string]string) Row {
	return Row{Number: number, Values: values}
}

func TestNormalizeLedgerScenario(t *testing.T) {
	n := fixedNormalizer()

	rec, warnings, err := n.Normalize(KindLedger, row(1, map[string]string{
		"手机号": "13800138000", "积分": "50", "渠道": "获得", "日期": "2024年01月05日",
	}))
	if err != nil {
		t.Fatalf("row 1: unexpected error %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("row 1: expected no warnings, got %v", warnings)
	}
	if rec.Entry.Channel != crm.ChannelEarned || rec.Entry.Points != 50 || rec.Entry.Date != "2024-01-05" {
		t.Fatalf("row 1: unexpected entry %+v", rec.Entry)
	}

	rec, warnings, err = n.Normalize(KindLedger, row(2, map[string]string{
		"手机号": "13800138000", "积分": "-20", "渠道": "", "日期": "2024-01-06",
	}))
	if err != nil {
		t.Fatalf("row 2: unexpected error %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("row 2: expected no warnings, got %v", warnings)
	}
	if rec.Entry.Channel != crm.ChannelRedeemed || rec.Entry.Points != -20 {
		t.Fatalf("row 2: expected redeemed -20, got %s %d", rec.Entry.Channel, rec.Entry.Points)
	}

	_, _, err = n.Normalize(KindLedger, row(3, map[string]string{
		"手机号": "99900000000", "积分": "abc", "日期": "bad",
	}))
	var failure *ValidationFailure
	if !errors.As(err, &failure) {
		t.Fatalf("row 3: expected validation failure, got %v", err)
	}
	if failure.Row != 3 || !strings.HasPrefix(failure.Error(), "row 3: ") {
		t.Fatalf("row 3: unexpected failure %q", failure.Error())
	}
}

func TestNormalizeLedgerDefaultsMissingFields(t *testing.T) {
	rec, warnings, err := fixedNormalizer().Normalize(KindLedger, row(7, map[string]string{
		"备注": "walk-in",
	}))
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if rec.Entry.Date != "2024-03-09" {
		t.Fatalf("expected today's date, got %s", rec.Entry.Date)
	}
	if rec.Entry.Points != 0 || rec.Entry.Channel != crm.ChannelEarned {
		t.Fatalf("expected 0 earned, got %d %s", rec.Entry.Points, rec.Entry.Channel)
	}
	if rec.Entry.CustomerName != crm.PlaceholderName {
		t.Fatalf("expected placeholder name, got %q", rec.Entry.CustomerName)
	}
	if rec.Phone != "" {
		t.Fatalf("expected orphan without phone, got %q", rec.Phone)
	}
	if len(warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %v", warnings)
	}
	for _, w := range warnings {
		if !strings.HasPrefix(w, "row 7: ") {
			t.Fatalf("expected warning to reference row 7, got %q", w)
		}
	}
}

func TestNormalizeLedgerEnglishHeadersAndDebitKeyword(t *testing.T) {
	rec, _, err := fixedNormalizer().Normalize(KindLedger, row(1, map[string]string{
		"phone": "+86 138-0013-8000", "points": "兑换 30", "date": "1/5/2024", "type": "adjust",
	}))
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if rec.Phone != "13800138000" {
		t.Fatalf("expected normalized phone, got %q", rec.Phone)
	}
	if rec.Entry.Points != -30 || rec.Entry.Channel != crm.ChannelRedeemed {
		t.Fatalf("expected redeemed -30, got %s %d", rec.Entry.Channel, rec.Entry.Points)
	}
}

func TestNormalizeLedgerUnknownChannelWarns(t *testing.T) {
	rec, warnings, err := fixedNormalizer().Normalize(KindLedger, row(4, map[string]string{
		"手机号": "13800138000", "积分": "10", "类型": "???", "日期": "2024-01-01",
	}))
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if rec.Entry.Channel != crm.ChannelEarned {
		t.Fatalf("expected earned, got %s", rec.Entry.Channel)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "unknown channel") {
		t.Fatalf("expected unknown channel warning, got %v", warnings)
	}
}

func TestNormalizeSale(t *testing.T) {
	rec, warnings, err := fixedNormalizer().Normalize(KindSales, row(2, map[string]string{
		"客户姓名": "张三", "手机号": "13800138000", "日期": "2024/02/01",
		"金额": "¥1,299.90", "货号": "A-100", "尺码": "M", "数量": "2", "门店": "南京路店",
	}))
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
	sale := rec.Sale
	if sale.TotalAmount.String() != "1299.9" || sale.Date != "2024-02-01" || sale.Store != "南京路店" {
		t.Fatalf("unexpected sale %+v", sale)
	}
	if len(sale.Items) != 1 || sale.Items[0].Quantity != 2 || sale.Items[0].ProductCode != "A-100" {
		t.Fatalf("unexpected items %+v", sale.Items)
	}
}

func TestNormalizeSaleDefaults(t *testing.T) {
	rec, _, err := fixedNormalizer().Normalize(KindSales, row(1, map[string]string{
		"name": "Li", "phone": "13900000000", "date": "2024-02-01",
	}))
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if !rec.Sale.TotalAmount.IsZero() || rec.Sale.Quantity() != 1 {
		t.Fatalf("expected zero amount and quantity 1, got %s %d", rec.Sale.TotalAmount, rec.Sale.Quantity())
	}
}

func TestNormalizeSaleKeepsRefundSign(t *testing.T) {
	for raw, want := range map[string]string{"-100": "-100", "(25.5)": "-25.5", "扣除 40": "-40"} {
		rec, _, err := fixedNormalizer().Normalize(KindSales, row(3, map[string]string{
			"客户姓名": "张三", "手机号": "13800138000", "日期": "2024-02-01", "金额": raw,
		}))
		if err != nil {
			t.Fatalf("%q: unexpected error %v", raw, err)
		}
		if rec.Sale.TotalAmount.String() != want {
			t.Fatalf("%q: expected total %s, got %s", raw, want, rec.Sale.TotalAmount)
		}
		if rec.Sale.Items[0].Amount.String() != want {
			t.Fatalf("%q: expected item amount %s, got %s", raw, want, rec.Sale.Items[0].Amount)
		}
	}
}

func TestNormalizeRejectsOutOfRangeNumbers(t *testing.T) {
	cases := []struct {
		name   string
		kind   Kind
		values map[string]string
		field  Field
	}{
		{"points beyond int64", KindLedger, map[string]string{"手机号": "13800138000", "积分": "99999999999999999999"}, FieldPoints},
		{"quantity beyond integer", KindSales, map[string]string{"客户姓名": "张三", "手机号": "13800138000", "日期": "2024-02-01", "数量": "3000000000"}, FieldQuantity},
		{"amount beyond numeric(14,2)", KindSales, map[string]string{"客户姓名": "张三", "手机号": "13800138000", "日期": "2024-02-01", "金额": "1000000000000"}, FieldAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := fixedNormalizer().Normalize(tc.kind, row(4, tc.values))
			var failure *ValidationFailure
			if !errors.As(err, &failure) {
				t.Fatalf("expected validation failure, got %v", err)
			}
			if failure.Field != tc.field || !strings.Contains(failure.Reason, "out of range") {
				t.Fatalf("expected out of range failure on %s, got %+v", tc.field, failure)
			}
		})
	}
}

func TestNormalizeSaleHardFailures(t *testing.T) {
	base := map[string]string{"客户姓名": "张三", "手机号": "13800138000", "日期": "2024-02-01", "金额": "10"}
	cases := []struct {
		name  string
		key   string
		value string
		field Field
	}{
		{"missing name", "客户姓名", "", FieldName},
		{"missing phone", "手机号", "", FieldPhone},
		{"missing date", "日期", "", FieldDate},
		{"bad date", "日期", "someday", FieldDate},
		{"bad amount", "金额", "ten", FieldAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			values := map[string]string{}
			for k, v := range base {
				values[k] = v
			}
			values[tc.key] = tc.value
			_, _, err := fixedNormalizer().Normalize(KindSales, row(5, values))
			var failure *ValidationFailure
			if !errors.As(err, &failure) {
				t.Fatalf("expected validation failure, got %v", err)
			}
			if failure.Field != tc.field || failure.Row != 5 {
				t.Fatalf("expected failure on %s row 5, got %+v", tc.field, failure)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind("Points"); err != nil || k != KindLedger {
		t.Fatalf("expected ledger, got %s (%v)", k, err)
	}
	if _, err := ParseKind("visits"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}
