// Package banking serves the dashboard's banking panel from static data.
// There is no bank connection behind it.
package banking

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrConnectionNotFound = errors.New("connection not found")
)

type Account struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Balance    float64   `json:"balance"`
	Currency   string    `json:"currency"`
	IBAN       string    `json:"iban,omitempty"`
	BIC        string    `json:"bic,omitempty"`
	Bank       string    `json:"bank,omitempty"`
	LastUpdate time.Time `json:"lastUpdate"`
}

type Transaction struct {
	ID          string    `json:"id"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency"`
	Category    string    `json:"category,omitempty"`
	AccountID   string    `json:"accountId"`
}

type Connection struct {
	ID        string    `json:"connectionId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Overview is the banking section of the dashboard.
type Overview struct {
	Accounts           []Account     `json:"accounts"`
	RecentTransactions []Transaction `json:"recentTransactions"`
}

type Service struct {
	mu          sync.Mutex
	connections map[string]Connection
	now         func() time.Time
}

func NewService() *Service {
	return &Service{connections: make(map[string]Connection), now: time.Now}
}

var accounts = []Account{
	{
		ID:         "1",
		Name:       "Girokonto",
		Balance:    2580.42,
		Currency:   "EUR",
		IBAN:       "DE89 3704 0044 0532 0130 00",
		BIC:        "COBADEFFXXX",
		Bank:       "Example Bank",
		LastUpdate: time.Date(2023, 4, 1, 10, 30, 0, 0, time.UTC),
	},
	{
		ID:         "2",
		Name:       "Sparkonto",
		Balance:    15000,
		Currency:   "EUR",
		IBAN:       "DE02 1203 0000 0000 2020 51",
		BIC:        "BYLADEM1001",
		Bank:       "Example Bank",
		LastUpdate: time.Date(2023, 3, 30, 14, 15, 0, 0, time.UTC),
	},
}

var transactions = []Transaction{
	{ID: "t1", Date: time.Date(2023, 3, 31, 8, 45, 0, 0, time.UTC), Description: "Lebensmittel Einkauf", Amount: -58.75, Currency: "EUR", Category: "Lebensmittel", AccountID: "1"},
	{ID: "t2", Date: time.Date(2023, 3, 30, 13, 20, 0, 0, time.UTC), Description: "Gehalt März", Amount: 2800, Currency: "EUR", Category: "Einkommen", AccountID: "1"},
	{ID: "t3", Date: time.Date(2023, 3, 29, 9, 0, 0, 0, time.UTC), Description: "Miete April", Amount: -950, Currency: "EUR", Category: "Wohnen", AccountID: "1"},
	{ID: "t4", Date: time.Date(2023, 3, 1, 6, 0, 0, 0, time.UTC), Description: "Dauerauftrag Sparen", Amount: 200, Currency: "EUR", Category: "Sparen", AccountID: "2"},
}

func (s *Service) Accounts() []Account {
	out := make([]Account, len(accounts))
	copy(out, accounts)
	return out
}

func (s *Service) Account(id string) (*Account, error) {
	for _, a := range accounts {
		if a.ID == id {
			a := a
			return &a, nil
		}
	}
	return nil, ErrAccountNotFound
}

// Transactions returns the account's transactions, newest first.
func (s *Service) Transactions(accountID string) ([]Transaction, error) {
	if _, err := s.Account(accountID); err != nil {
		return nil, err
	}
	out := []Transaction{}
	for _, t := range transactions {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// RecentTransactions returns the latest transactions across all accounts,
// re-dated relative to now so the dashboard always shows recent activity.
func (s *Service) RecentTransactions(limit int) []Transaction {
	now := s.now().UTC()
	offsets := map[string]time.Duration{
		"t1": 1 * 24 * time.Hour,
		"t2": 2 * 24 * time.Hour,
		"t3": 3 * 24 * time.Hour,
	}

	out := make([]Transaction, 0, len(offsets))
	for _, t := range transactions {
		d, ok := offsets[t.ID]
		if !ok {
			continue
		}
		t.Date = now.Add(-d).Truncate(time.Second)
		out = append(out, t)
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Service) Overview() Overview {
	accs := s.Accounts()
	now := s.now().UTC().Truncate(time.Second)
	for i := range accs {
		accs[i].LastUpdate = now
	}
	return Overview{Accounts: accs, RecentTransactions: s.RecentTransactions(0)}
}

func (s *Service) Connect() Connection {
	c := Connection{ID: uuid.NewString(), CreatedAt: s.now().UTC()}
	s.mu.Lock()
	s.connections[c.ID] = c
	s.mu.Unlock()
	return c
}

func (s *Service) RemoveConnection(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.connections[id]; !ok {
		return ErrConnectionNotFound
	}
	delete(s.connections, id)
	return nil
}

func sortNewestFirst(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].Date.After(txs[j].Date) })
}
