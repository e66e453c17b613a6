package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ProviderEvent mirrors the provider_events table. Rows are never deleted;
// the table doubles as the payment audit trail.
type ProviderEvent struct {
	EventID     string         `gorm:"primaryKey"`
	Type        string         `gorm:"not null;index"`
	Payload     datatypes.JSON `gorm:"not null"`
	ReceivedAt  time.Time      `gorm:"not null"`
	ProcessedAt *time.Time     `gorm:""`
}

func (ProviderEvent) TableName() string { return "provider_events" }

// OutboxEvent mirrors the outbox_events table.
type OutboxEvent struct {
	EntryID       string         `gorm:"type:uuid;primaryKey"`
	EventType     string         `gorm:"not null"`
	Payload       datatypes.JSON `gorm:"not null"`
	Attempts      int            `gorm:"not null;default:0"`
	NextAttemptAt time.Time      `gorm:"not null;index:idx_outbox_due,priority:2"`
	ProcessedAt   *time.Time     `gorm:"index:idx_outbox_due,priority:1"`
	CreatedAt     time.Time      `gorm:"not null"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }

func (event *OutboxEvent) BeforeCreate(tx *gorm.DB) error {
	if event.EntryID == "" {
		event.EntryID = uuid.NewString()
	}
	return nil
}

// DeadLetterEvent mirrors the outbox_dead_letters table. Write-once
// snapshots of entries that exhausted their retries.
type DeadLetterEvent struct {
	DeadLetterID    string         `gorm:"type:uuid;primaryKey"`
	OriginalEntryID string         `gorm:"not null;index"`
	EventType       string         `gorm:"not null"`
	Payload         datatypes.JSON `gorm:"not null"`
	Attempt         int            `gorm:"not null"`
	LastError       string         `gorm:"not null"`
	CreatedAt       time.Time      `gorm:"not null"`
}

func (DeadLetterEvent) TableName() string { return "outbox_dead_letters" }

func (deadLetter *DeadLetterEvent) BeforeCreate(tx *gorm.DB) error {
	if deadLetter.DeadLetterID == "" {
		deadLetter.DeadLetterID = uuid.NewString()
	}
	return nil
}

// Account mirrors the ledger_accounts table. OwnerUserID is null for
// platform-owned accounts.
type Account struct {
	AccountID   string    `gorm:"type:uuid;primaryKey"`
	OwnerUserID *string   `gorm:"index:idx_accounts_owner_type,unique,priority:1"`
	Type        string    `gorm:"not null;index:idx_accounts_owner_type,unique,priority:2"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "ledger_accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// LedgerTransaction mirrors the ledger_transactions table.
type LedgerTransaction struct {
	TransactionID string    `gorm:"type:uuid;primaryKey"`
	Reference     string    `gorm:"not null;uniqueIndex"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (LedgerTransaction) TableName() string { return "ledger_transactions" }

// LedgerEntry mirrors the ledger_entries table. Rows are immutable once
// written.
type LedgerEntry struct {
	EntryID       string    `gorm:"type:uuid;primaryKey"`
	TransactionID string    `gorm:"type:uuid;not null;index"`
	AccountID     string    `gorm:"type:uuid;not null;index:idx_entries_account_created,priority:1"`
	AmountCents   int64     `gorm:"not null"`
	Description   string    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null;index:idx_entries_account_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// IdempotencyRecord mirrors the idempotency_keys table. A row with a null
// completed_at is an unresolved reservation.
type IdempotencyRecord struct {
	Key         string         `gorm:"primaryKey"`
	StatusCode  int            `gorm:"not null;default:0"`
	Response    datatypes.JSON `gorm:""`
	CreatedAt   time.Time      `gorm:"not null"`
	CompletedAt *time.Time     `gorm:""`
}

func (IdempotencyRecord) TableName() string { return "idempotency_keys" }

// Ticket mirrors the tickets table.
type Ticket struct {
	TicketID    string     `gorm:"type:uuid;primaryKey"`
	OwnerUserID string     `gorm:"not null;index"`
	EventID     string     `gorm:"not null;index:idx_tickets_event_code,priority:1"`
	Status      string     `gorm:"not null"`
	Code        string     `gorm:"not null;index:idx_tickets_event_code,priority:2"`
	RedeemedAt  *time.Time `gorm:""`
	CreatedAt   time.Time  `gorm:"not null"`
}

func (Ticket) TableName() string { return "tickets" }

func (ticket *Ticket) BeforeCreate(tx *gorm.DB) error {
	if ticket.TicketID == "" {
		ticket.TicketID = uuid.NewString()
	}
	return nil
}

// Order mirrors the orders table.
type Order struct {
	OrderID           string    `gorm:"primaryKey"`
	UserID            string    `gorm:"not null;index"`
	Status            string    `gorm:"not null"`
	AmountCents       int64     `gorm:"not null"`
	ProviderSessionID string    `gorm:""`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

func (Order) TableName() string { return "orders" }

// Notification mirrors the notifications table. Insert-only.
type Notification struct {
	NotificationID string    `gorm:"type:uuid;primaryKey"`
	UserID         string    `gorm:"not null;index"`
	Kind           string    `gorm:"not null"`
	Body           string    `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (Notification) TableName() string { return "notifications" }

func (notification *Notification) BeforeCreate(tx *gorm.DB) error {
	if notification.NotificationID == "" {
		notification.NotificationID = uuid.NewString()
	}
	return nil
}

// WalletBalance mirrors the wallet_balances table: the denormalized scalar
// derived from the ledger.
type WalletBalance struct {
	UserID       string    `gorm:"primaryKey"`
	BalanceCents int64     `gorm:"not null;default:0"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (WalletBalance) TableName() string { return "wallet_balances" }

// Migrate creates or updates every table this store owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ProviderEvent{},
		&OutboxEvent{},
		&DeadLetterEvent{},
		&Account{},
		&LedgerTransaction{},
		&LedgerEntry{},
		&IdempotencyRecord{},
		&Ticket{},
		&Order{},
		&Notification{},
		&WalletBalance{},
	)
}
