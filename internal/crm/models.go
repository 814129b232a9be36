// Package crm holds the record types shared by the store, the import engine and the
// HTTP layer.
package crm

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DateLayout is the textual form of every business date. Dates are stored as text so
// that "latest" can be decided lexically.
const DateLayout = "2006-01-02"

// PlaceholderName is used for customers and ledger rows whose name is unknown.
const PlaceholderName = "未知客户"

type Channel string

const (
	ChannelEarned   Channel = "earned"
	ChannelRedeemed Channel = "redeemed"
	ChannelExpired  Channel = "expired"
	ChannelAdjusted Channel = "adjusted"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelEarned, ChannelRedeemed, ChannelExpired, ChannelAdjusted:
		return true
	}
	return false
}

// InferChannel applies sign precedence: a negative value is always a redemption, and a
// non-negative value cannot be one. A blank channel becomes earned.
func InferChannel(stated Channel, points int64) Channel {
	if points < 0 {
		return ChannelRedeemed
	}
	if stated == "" || stated == ChannelRedeemed {
		return ChannelEarned
	}
	return stated
}

// Aggregates are the denormalized summary fields cached on a customer row.
type Aggregates struct {
	TotalConsumption decimal.Decimal
	ConsumptionCount int64
	ConsumptionTimes int64
	LastConsumption  string
	TotalPoints      int64
	AvailablePoints  int64
}

type Customer struct {
	ID        uuid.UUID
	Phone     string
	Name      string
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Aggregates
}

// CustomerRef is the slice of a customer the import resolver keeps in memory.
type CustomerRef struct {
	ID   uuid.UUID
	Name string
}

type SaleItem struct {
	ID          uuid.UUID
	ProductCode string
	Size        string
	Quantity    int
	Amount      decimal.Decimal
}

type Sale struct {
	ID            uuid.UUID
	CustomerID    *uuid.UUID
	CustomerName  string
	CustomerPhone string
	Date          string
	Store         string
	Staff         string
	Notes         string
	TotalAmount   decimal.Decimal
	Items         []SaleItem
	Source        string
	ImportID      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Quantity is the number of items across all line items of the sale.
func (s Sale) Quantity() int {
	total := 0
	for _, item := range s.Items {
		total += item.Quantity
	}
	return total
}

type LedgerEntry struct {
	ID            uuid.UUID
	CustomerID    *uuid.UUID
	CustomerName  string
	CustomerPhone string
	Channel       Channel
	Points        int64
	Date          string
	Notes         string
	Operator      string
	Source        string
	ImportID      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Visit struct {
	ID         uuid.UUID
	CustomerID uuid.UUID
	VisitedAt  time.Time
	Purpose    string
	Notes      string
	CreatedAt  time.Time
}

// NormalizePhone keeps the digits of a phone number and drops a leading 86 country code
// from 13-digit mainland mobile numbers.
func NormalizePhone(value string) string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return ""
	}
	digits := make([]rune, 0, len(raw))
	for _, char := range raw {
		if char >= '0' && char <= '9' {
			digits = append(digits, char)
		}
	}
	phone := string(digits)
	if len(phone) == 13 && strings.HasPrefix(phone, "86") {
		phone = phone[2:]
	}
	return phone
}

// SameCustomer reports whether two optional customer references point at the same row.
func SameCustomer(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
