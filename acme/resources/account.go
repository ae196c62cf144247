// Package resources provides the ACME record types (spec.md section 3):
// Account, Order, Authorization and Challenge, plus the challenge proof
// derivations of spec.md section 4.6.
package resources

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/acme-go/acmecore/acme"
	"github.com/acme-go/acmecore/acme/keys"
)

// Account is the tuple (AccountKey, account URL, contacts) of spec.md
// section 3. The account URL lives on the AccountKey itself (its kid slot)
// so that every signing path that needs to decide jwk-vs-kid mode can ask
// the key directly instead of threading a second value around.
type Account struct {
	Key     *keys.AccountKey
	Contact []string
	// Orders is the set of order URLs this account has created during the
	// current session. It is maintained client-side for convenience; it is
	// not part of the ACME account resource itself.
	Orders []string
}

// NewAccount builds an in-memory Account with a fresh AccountKey. It is not
// registered with the ACME server until passed to a Client's
// RegisterAccount or FindAccount call. Emails are plain addresses (without
// a mailto: prefix); NewAccount adds the prefix.
func NewAccount(emails []string) (*Account, error) {
	k, err := keys.New()
	if err != nil {
		return nil, err
	}
	var contacts []string
	for _, e := range emails {
		if e == "" {
			continue
		}
		contacts = append(contacts, fmt.Sprintf("mailto:%s", e))
	}
	return &Account{Key: k, Contact: contacts}, nil
}

// ID returns the account's URL (kid), or the empty string if the account
// has not yet been created or looked up server-side.
func (a *Account) ID() string {
	if !a.Key.HasKID() {
		return ""
	}
	return a.Key.KID()
}

func (a *Account) String() string {
	return a.ID()
}

// OrderURL returns the URL for the ith Order the Account has created. An
// error is returned if the Account has no Orders or the index is out of
// bounds.
func (a *Account) OrderURL(i int) (string, error) {
	if len(a.Orders) == 0 {
		return "", fmt.Errorf("account has no orders")
	}
	if i < 0 || i >= len(a.Orders) {
		return "", fmt.Errorf("order index must be 0 <= i < %d", len(a.Orders))
	}
	return a.Orders[i], nil
}

// rawAccount is the on-disk representation used by SaveAccount/RestoreAccount.
type rawAccount struct {
	ID      string   `json:"id"`
	Contact []string `json:"contact"`
	Orders  []string `json:"orders"`
	KeyPEM  string   `json:"keyPem"`
}

// SaveAccount persists an Account (including its private key, PKCS#8 PEM
// encoded) to the given file path with owner-only permissions, mirroring
// the teacher's saveAccount shell command.
func SaveAccount(path string, account *Account) error {
	if account == nil {
		return fmt.Errorf("account must not be nil")
	}
	pemText, err := account.Key.ToPEM()
	if err != nil {
		return err
	}
	raw := rawAccount{
		ID:      account.ID(),
		Contact: account.Contact,
		Orders:  account.Orders,
		KeyPEM:  pemText,
	}
	frozen, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return acme.SerializationFailedError(err, "marshaling account for save")
	}
	return os.WriteFile(path, frozen, 0600)
}

// RestoreAccount loads a previously saved Account from the given file path.
func RestoreAccount(path string) (*Account, error) {
	frozen, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw rawAccount
	if err := json.Unmarshal(frozen, &raw); err != nil {
		return nil, acme.SerializationFailedError(err, "unmarshaling saved account")
	}
	key, err := keys.FromPEM(raw.KeyPEM)
	if err != nil {
		return nil, err
	}
	if raw.ID != "" {
		key.SetKID(raw.ID)
	}
	return &Account{
		Key:     key,
		Contact: raw.Contact,
		Orders:  raw.Orders,
	}, nil
}
