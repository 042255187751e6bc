package domain

import (
	"strings"
	"time"
)

// AccountStatus is the lifecycle state of an account. ACTIVE -> CLOSED is the only transition.
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "ACTIVE"
	AccountStatusClosed AccountStatus = "CLOSED"
)

// MaxAccountNameLength bounds the display name of an account.
const MaxAccountNameLength = 40

// CanTransitionTo reports whether moving from s to next is allowed.
func (s AccountStatus) CanTransitionTo(next AccountStatus) bool {
	return s == AccountStatusActive && next == AccountStatusClosed
}

// Account is a named, numbered holder of funds owned by a party.
type Account struct {
	ID            string        `json:"id"`
	OwnerID       string        `json:"owner_id"`
	Name          string        `json:"name"`
	AccountNumber string        `json:"account_number"`
	Status        AccountStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// IsActive reports whether the account may take part in new transfers.
func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// AccountWithBalance pairs an account with its derived balance.
type AccountWithBalance struct {
	Account
	Balance int64 `json:"balance"`
}

// Party is the external owner of accounts.
type Party struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	FirstName  string    `json:"first_name"`
	MiddleName string    `json:"middle_name,omitempty"`
	LastName   string    `json:"last_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// DisplayName renders "First Middle L.", dropping missing parts.
func (p *Party) DisplayName() string {
	var b strings.Builder
	b.WriteString(p.FirstName)
	b.WriteString(" ")
	b.WriteString(p.MiddleName)
	if last := strings.TrimSpace(p.LastName); last != "" {
		b.WriteString(" ")
		b.WriteString(string([]rune(last)[:1]))
		b.WriteString(".")
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
