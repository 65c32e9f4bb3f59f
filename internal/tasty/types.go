package tasty

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TokenGrant is the result of an OAuth token exchange. The upstream may
// rotate the refresh token; when RefreshToken is empty the old one stays
// valid.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// tokenResponse is the wire shape of POST /oauth/token.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// oauthErrorResponse is the wire shape of a token endpoint failure.
type oauthErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// dataEnvelope wraps every REST payload the upstream returns.
type dataEnvelope[T any] struct {
	Data T `json:"data"`
}

type itemsEnvelope[T any] struct {
	Items []T `json:"items"`
}

// Account is one brokerage account visible under a session.
type Account struct {
	AccountNumber string `json:"account-number"`
	Nickname      string `json:"nickname"`
	AccountType   string `json:"account-type-name"`
	IsClosed      bool   `json:"is-closed"`
}

// accountItem nests the account under an authority wrapper in the listing.
type accountItem struct {
	Account        Account `json:"account"`
	AuthorityLevel string  `json:"authority-level"`
}

// Balance holds the money fields of an account snapshot.
type Balance struct {
	AccountNumber          string          `json:"account-number"`
	CashBalance            decimal.Decimal `json:"cash-balance"`
	NetLiquidatingValue    decimal.Decimal `json:"net-liquidating-value"`
	EquityBuyingPower      decimal.Decimal `json:"equity-buying-power"`
	DerivativeBuyingPower  decimal.Decimal `json:"derivative-buying-power"`
	MaintenanceRequirement decimal.Decimal `json:"maintenance-requirement"`
	PendingCash            decimal.Decimal `json:"pending-cash"`
}

// Position is one open position in an account.
type Position struct {
	AccountNumber     string          `json:"account-number"`
	Symbol            string          `json:"symbol"`
	InstrumentType    string          `json:"instrument-type"`
	Quantity          decimal.Decimal `json:"quantity"`
	QuantityDirection string          `json:"quantity-direction"`
	AverageOpenPrice  decimal.Decimal `json:"average-open-price"`
	ClosePrice        decimal.Decimal `json:"close-price"`
	Multiplier        decimal.Decimal `json:"multiplier"`
}

// Quote is a single market-data snapshot from the DXLink feed.
type Quote struct {
	Symbol   string          `json:"symbol"`
	BidPrice decimal.Decimal `json:"bid_price"`
	AskPrice decimal.Decimal `json:"ask_price"`
	BidSize  decimal.Decimal `json:"bid_size"`
	AskSize  decimal.Decimal `json:"ask_size"`
}

// customerData is the slice of GET /customers/me this client reads. The
// id is kept opaque; it is only carried as a session identity handle.
type customerData struct {
	ID json.Number `json:"id"`
}

// quoteTokenData is the wire shape of GET /api-quote-tokens.
type quoteTokenData struct {
	Token     string `json:"token"`
	DXLinkURL string `json:"dxlink-url"`
	Level     string `json:"level"`
}
