package domain

// CreditPack describes a purchasable credit bundle. The catalog is compiled in:
// pack prices live in Stripe, but the credit quantity each pack grants must be
// resolvable even when a webhook payload carries only a pack id.
type CreditPack struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Credits     int64  `json:"credits"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

var creditPacks = map[string]CreditPack{
	"starter": {ID: "starter", Name: "Starter", Credits: 50, AmountCents: 999, Currency: "usd"},
	"growth":  {ID: "growth", Name: "Growth", Credits: 150, AmountCents: 2499, Currency: "usd"},
	"power":   {ID: "power", Name: "Power", Credits: 400, AmountCents: 4999, Currency: "usd"},
}

// FindCreditPack returns the pack for the given id, if it exists.
func FindCreditPack(id string) (CreditPack, bool) {
	pack, ok := creditPacks[id]
	return pack, ok
}
