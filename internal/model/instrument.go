package model

// Instrument identifies a security tracked by the algorithm universe.
// The scheduling core never sees instruments; they exist only so the
// universe glue can derive per-security event names.
type Instrument struct {
	Token         string `json:"token"`
	Exchange      string `json:"exchange"`
	TradingSymbol string `json:"trading_symbol"`
	Name          string `json:"name"`
}

// Key returns a unique key for this instrument: "exchange:token".
func (i *Instrument) Key() string {
	return i.Exchange + ":" + i.Token
}
