package importer

import (
	"errors"
	"testing"

	"github.com/yutaoyuan/crm-system-sub000/internal/crm"
)

func TestParseNumber(t *testing.T) {
	cases := map[string]string{
		"1,234.50":  "1234.5",
		"¥ 88":      "88",
		"￥1，000元":   "1000",
		"50积分":      "50",
		"兑换 30":     "-30",
		"-30 兑换":    "-30",
		"redeem 12": "-12",
		"(15)":      "-15",
		"12%":       "12",
	}
	for raw, want := range cases {
		got, err := parseNumber(raw)
		if err != nil {
			t.Fatalf("parseNumber(%q): unexpected error %v", raw, err)
		}
		if got.String() != want {
			t.Fatalf("parseNumber(%q): expected %s, got %s", raw, want, got.String())
		}
	}

	for _, raw := range []string{"", "abc", "12abc"} {
		if _, err := parseNumber(raw); err == nil {
			t.Fatalf("parseNumber(%q): expected error", raw)
		}
	}
}

func TestParsePointsRounds(t *testing.T) {
	got, err := parsePoints("12.6")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 13 {
		t.Fatalf("expected 13, got %d", got)
	}
}

func TestParseQuantityDefaultsToOne(t *testing.T) {
	got, err := parseQuantity("  ")
	if err != nil || got != 1 {
		t.Fatalf("expected 1, got %d (%v)", got, err)
	}
	got, err = parseQuantity("3")
	if err != nil || got != 3 {
		t.Fatalf("expected 3, got %d (%v)", got, err)
	}
}

func TestParsePointsRejectsOverflow(t *testing.T) {
	for _, raw := range []string{"99999999999999999999", "-99999999999999999999", "9223372036854775808"} {
		if _, err := parsePoints(raw); !errors.Is(err, errOutOfRange) {
			t.Fatalf("parsePoints(%q): expected errOutOfRange, got %v", raw, err)
		}
	}
	got, err := parsePoints("9223372036854775807")
	if err != nil || got != 9223372036854775807 {
		t.Fatalf("expected max int64, got %d (%v)", got, err)
	}
}

func TestParseQuantityRejectsOverflow(t *testing.T) {
	for _, raw := range []string{"3000000000", "-3000000000"} {
		if _, err := parseQuantity(raw); !errors.Is(err, errOutOfRange) {
			t.Fatalf("parseQuantity(%q): expected errOutOfRange, got %v", raw, err)
		}
	}
	got, err := parseQuantity("2147483647")
	if err != nil || got != 2147483647 {
		t.Fatalf("expected max int32, got %d (%v)", got, err)
	}
}

func TestParseAmountRange(t *testing.T) {
	got, err := parseAmount("999999999999.994")
	if err != nil || got.String() != "999999999999.99" {
		t.Fatalf("expected 999999999999.99, got %s (%v)", got, err)
	}
	if _, err := parseAmount("-1000000000000"); !errors.Is(err, errOutOfRange) {
		t.Fatalf("expected errOutOfRange, got %v", err)
	}
}

func TestParseDateFormats(t *testing.T) {
	cases := map[string]string{
		"2024-01-05":          "2024-01-05",
		"2024-1-5":            "2024-01-05",
		"2024年01月05日":         "2024-01-05",
		"2024年1月5日":           "2024-01-05",
		"2024 年 1 月 5 号":      "2024-01-05",
		"1/5/2024":            "2024-01-05",
		"12/31/2023":          "2023-12-31",
		"2024/01/05":          "2024-01-05",
		"2024.1.5":            "2024-01-05",
		"20240105":            "2024-01-05",
		"2024-01-05 13:45:00": "2024-01-05",
		"2024-01-05T13:45:00Z": "2024-01-05",
		"45296":               "2024-01-05",
		"45296.5":             "2024-01-05",
	}
	for raw, want := range cases {
		got, err := parseDate(raw)
		if err != nil {
			t.Fatalf("parseDate(%q): unexpected error %v", raw, err)
		}
		if got.Format(crm.DateLayout) != want {
			t.Fatalf("parseDate(%q): expected %s, got %s", raw, want, got.Format(crm.DateLayout))
		}
	}

	for _, raw := range []string{"", "bad", "2024-13-01", "2023年02月30日", "0"} {
		if _, err := parseDate(raw); err == nil {
			t.Fatalf("parseDate(%q): expected error", raw)
		}
	}
}

func TestFromSpreadsheetSerialLeapYearBug(t *testing.T) {
	cases := map[int]string{
		1:     "1900-01-01",
		59:    "1900-02-28",
		60:    "1900-02-28",
		61:    "1900-03-01",
		45292: "2024-01-01",
	}
	for serial, want := range cases {
		if got := fromSpreadsheetSerial(serial).Format(crm.DateLayout); got != want {
			t.Fatalf("serial %d: expected %s, got %s", serial, want, got)
		}
	}
}

func TestMapChannel(t *testing.T) {
	cases := map[string]crm.Channel{
		"获得":       crm.ChannelEarned,
		"消费奖励":     crm.ChannelRedeemed,
		"积分兑换":     crm.ChannelRedeemed,
		"过期":       crm.ChannelExpired,
		"手工调整":     crm.ChannelAdjusted,
		"Redeemed": crm.ChannelRedeemed,
		"earned":   crm.ChannelEarned,
	}
	for raw, want := range cases {
		got, ok := mapChannel(raw)
		if !ok || got != want {
			t.Fatalf("mapChannel(%q): expected %s, got %s (%v)", raw, want, got, ok)
		}
	}
	if _, ok := mapChannel("???"); ok {
		t.Fatalf("expected unknown label to be unmapped")
	}
}
