package main

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/yutaoyuan/crm-system-sub000/internal/auth"
	"github.com/yutaoyuan/crm-system-sub000/internal/crm"
	"github.com/yutaoyuan/crm-system-sub000/internal/reconcile"
	"github.com/yutaoyuan/crm-system-sub000/internal/store"
)

type seedUser struct {
	email, name, password string
	role                  auth.Role
}

type seedCustomer struct {
	phone, name string
	sales       []string
	points      []int64
}

func main() {
	_ = godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	users := []seedUser{
		{
			email:    envOrDefault("SEED_ADMIN_EMAIL", "admin@local.crm"),
			name:     envOrDefault("SEED_ADMIN_NAME", "Local Admin"),
			password: envOrDefault("SEED_ADMIN_PASSWORD", "Admin12345!"),
			role:     auth.RoleAdmin,
		},
		{email: "staff@local.crm", name: "Store Staff", password: "Staff12345!", role: auth.RoleStaff},
		{email: "viewer@local.crm", name: "Read Only", password: "Viewer12345!", role: auth.RoleViewer},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := store.Connect(ctx, databaseURL, 2)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()
	st := store.New(pool)

	for _, u := range users {
		hash, err := auth.HashPassword(u.password)
		if err != nil {
			log.Fatalf("hash password: %v", err)
		}
		if _, err := st.UpsertUser(ctx, u.email, u.name, u.role, hash); err != nil {
			log.Fatalf("upsert user %s: %v", u.email, err)
		}
		log.Printf("seeded user %s (%s)", u.email, u.role)
	}

	if os.Getenv("SEED_SAMPLE_DATA") == "false" {
		return
	}

	customers := []seedCustomer{
		{phone: "13800138000", name: "张三", sales: []string{"299.00", "128.50"}, points: []int64{427, -100}},
		{phone: "13900139000", name: "李四", sales: []string{"88.80"}, points: []int64{88}},
		{phone: "13700137000", name: "王五"},
	}

	reconciler := reconcile.New(st, nil)
	today := time.Now().Format(crm.DateLayout)
	for _, c := range customers {
		created, err := st.CreateCustomer(ctx, c.phone, c.name, "")
		if errors.Is(err, store.ErrPhoneTaken) {
			log.Printf("customer %s already exists, skipping", c.phone)
			continue
		}
		if err != nil {
			log.Fatalf("create customer %s: %v", c.phone, err)
		}

		id := created.ID
		for _, amount := range c.sales {
			sale := crm.Sale{
				CustomerID:    &id,
				CustomerName:  c.name,
				CustomerPhone: c.phone,
				Date:          today,
				Store:         "旗舰店",
				TotalAmount:   decimal.RequireFromString(amount),
				Items:         []crm.SaleItem{{ProductCode: "SKU-001", Size: "M", Quantity: 1, Amount: decimal.RequireFromString(amount)}},
				Source:        "seed",
			}
			if err := st.CreateSale(ctx, &sale); err != nil {
				log.Fatalf("create sale: %v", err)
			}
		}
		for _, points := range c.points {
			channel := crm.ChannelEarned
			if points < 0 {
				channel = crm.ChannelRedeemed
			}
			entry := crm.LedgerEntry{
				CustomerID:    &id,
				CustomerName:  c.name,
				CustomerPhone: c.phone,
				Channel:       channel,
				Points:        points,
				Date:          today,
				Source:        "seed",
			}
			if err := st.CreateLedgerEntry(ctx, &entry); err != nil {
				log.Fatalf("create ledger entry: %v", err)
			}
		}
		if err := reconciler.Reconcile(ctx, id); err != nil {
			log.Fatalf("reconcile %s: %v", c.phone, err)
		}
		log.Printf("seeded customer %s %s", c.phone, c.name)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
