package importer

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yutaoyuan/crm-system-sub000/internal/crm"
)

var (
	errNotANumber  = errors.New("not a number")
	errOutOfRange  = errors.New("out of range")
	maxPoints      = decimal.NewFromInt(math.MaxInt64)
	minPoints      = decimal.NewFromInt(math.MinInt64)
	maxQuantity    = decimal.NewFromInt(math.MaxInt32)
	maxAmountLimit = decimal.New(1, 12)
)

// debitKeywords mark a value as a redemption or consumption. Matching is done on the
// lower-cased text.
var debitKeywords = []string{"兑换", "使用", "消费", "扣除", "扣减", "redeemed", "redeem", "used"}

var numberNoise = strings.NewReplacer(
	"¥", "", "￥", "", "$", "", "€", "", "£", "",
	",", "", "，", "", "%", "", "元", "", "积分", "", "分", "",
	" ", "", "\u00a0", "", "\t", "",
	"−", "-", "－", "-",
)

// parseNumber coerces a loosely formatted amount or point value. A value that mentions a
// debit keyword and carries no minus sign is negated.
func parseNumber(raw string) (decimal.Decimal, error) {
	text := strings.ToLower(strings.TrimSpace(raw))
	if text == "" {
		return decimal.Zero, errNotANumber
	}

	negate := false
	for _, kw := range debitKeywords {
		if strings.Contains(text, kw) {
			negate = !strings.ContainsAny(text, "-−－")
			text = strings.ReplaceAll(text, kw, "")
		}
	}
	cleaned := numberNoise.Replace(text)
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		cleaned = "-" + strings.Trim(cleaned, "()")
	}

	value, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", errNotANumber, raw)
	}
	if negate && value.IsPositive() {
		value = value.Neg()
	}
	return value, nil
}

// parsePoints is parseNumber rounded to whole points. Values that do not fit a BIGINT
// column are rejected.
func parsePoints(raw string) (int64, error) {
	value, err := parseNumber(raw)
	if err != nil {
		return 0, err
	}
	value = value.Round(0)
	if value.GreaterThan(maxPoints) || value.LessThan(minPoints) {
		return 0, fmt.Errorf("%w: %q", errOutOfRange, raw)
	}
	return value.IntPart(), nil
}

// parseQuantity defaults a blank cell to 1 and rejects counts beyond an INTEGER column.
func parseQuantity(raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 1, nil
	}
	value, err := parseNumber(raw)
	if err != nil {
		return 0, err
	}
	value = value.Round(0)
	if value.Abs().GreaterThan(maxQuantity) {
		return 0, fmt.Errorf("%w: %q", errOutOfRange, raw)
	}
	return int(value.IntPart()), nil
}

// parseAmount is parseNumber limited to what NUMERIC(14,2) can hold once rounded to cents.
func parseAmount(raw string) (decimal.Decimal, error) {
	value, err := parseNumber(raw)
	if err != nil {
		return decimal.Zero, err
	}
	value = value.Round(2)
	if value.Abs().GreaterThanOrEqual(maxAmountLimit) {
		return decimal.Zero, fmt.Errorf("%w: %q", errOutOfRange, raw)
	}
	return value, nil
}

// parseFailure renders a coercion error as a row failure reason.
func parseFailure(raw string, err error) string {
	if errors.Is(err, errOutOfRange) {
		return fmt.Sprintf("%q is out of range", raw)
	}
	return fmt.Sprintf("cannot parse %q", raw)
}

var (
	localizedDate = regexp.MustCompile(`^(\d{4})\s*年\s*(\d{1,2})\s*月\s*(\d{1,2})\s*[日号]?`)
	slashDate     = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	serialNumber  = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

var fallbackLayouts = []string{
	"2006/01/02",
	"2006/1/2",
	"2006.01.02",
	"2006.1.2",
	"20060102",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/1/2 15:04:05",
	"2006/1/2 15:04",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"02-Jan-2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

const (
	maxSpreadsheetSerial = 2958465 // 9999-12-31
	lotusLeapSerial      = 60      // the nonexistent 1900-02-29
)

// parseDate accepts, in order: ISO, the localized 年月日 form, M/D/YYYY, a set of
// generic layouts and finally a spreadsheet serial day number.
func parseDate(raw string) (time.Time, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return time.Time{}, errors.New("empty date")
	}

	if t, err := time.Parse("2006-01-02", text); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-1-2", text); err == nil {
		return t, nil
	}

	if m := localizedDate.FindStringSubmatch(text); m != nil {
		if t, ok := civilDate(m[1], m[2], m[3]); ok {
			return t, nil
		}
	}

	if m := slashDate.FindStringSubmatch(text); m != nil {
		if t, ok := civilDate(m[3], m[1], m[2]); ok {
			return t, nil
		}
	}

	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}

	if serialNumber.MatchString(text) {
		serial, err := strconv.ParseFloat(text, 64)
		if err == nil && serial >= 1 && serial <= maxSpreadsheetSerial {
			return fromSpreadsheetSerial(int(serial)), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}

// fromSpreadsheetSerial converts a 1900-system day number. Serial 1 is 1900-01-01 and
// serial 60 is the fictitious 1900-02-29 inherited from Lotus 1-2-3; it maps to the 28th.
func fromSpreadsheetSerial(serial int) time.Time {
	base := time.Date(1899, time.December, 31, 0, 0, 0, 0, time.UTC)
	switch {
	case serial < lotusLeapSerial:
		return base.AddDate(0, 0, serial)
	case serial == lotusLeapSerial:
		return time.Date(1900, time.February, 28, 0, 0, 0, 0, time.UTC)
	default:
		return base.AddDate(0, 0, serial-1)
	}
}

func civilDate(year, month, day string) (time.Time, bool) {
	y, err := strconv.Atoi(year)
	if err != nil {
		return time.Time{}, false
	}
	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return time.Time{}, false
	}
	d, err := strconv.Atoi(day)
	if err != nil || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

type channelLabel struct {
	label   string
	channel crm.Channel
}

// channelLabels map free-text channel labels onto the closed channel set, most specific
// first. Labels are lower-case.
var channelLabels = []channelLabel{
	{"兑换", crm.ChannelRedeemed},
	{"使用", crm.ChannelRedeemed},
	{"消费", crm.ChannelRedeemed},
	{"扣除", crm.ChannelRedeemed},
	{"redeemed", crm.ChannelRedeemed},
	{"redeem", crm.ChannelRedeemed},
	{"used", crm.ChannelRedeemed},
	{"过期", crm.ChannelExpired},
	{"expired", crm.ChannelExpired},
	{"expire", crm.ChannelExpired},
	{"调整", crm.ChannelAdjusted},
	{"adjusted", crm.ChannelAdjusted},
	{"adjust", crm.ChannelAdjusted},
	{"获得", crm.ChannelEarned},
	{"奖励", crm.ChannelEarned},
	{"赠送", crm.ChannelEarned},
	{"积累", crm.ChannelEarned},
	{"earned", crm.ChannelEarned},
	{"earn", crm.ChannelEarned},
	{"reward", crm.ChannelEarned},
}

func mapChannel(raw string) (crm.Channel, bool) {
	text := strings.ToLower(strings.TrimSpace(raw))
	if text == "" {
		return "", false
	}
	if ch := crm.Channel(text); ch.Valid() {
		return ch, true
	}
	for _, l := range channelLabels {
		if text == l.label {
			return l.channel, true
		}
	}
	for _, l := range channelLabels {
		if strings.Contains(text, l.label) {
			return l.channel, true
		}
	}
	return "", false
}
