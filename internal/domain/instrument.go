package domain

import "strconv"

// InstrumentKey identifies a tradable instrument on the broker feed: the
// exchange segment code (e.g. "NF" for NSE F&O, "NC" for NSE cash) plus the
// numeric scrip code assigned by the exchange.
type InstrumentKey struct {
	Exchange  string
	ScripCode int
}

// FeedKey renders the key in the wire form used by feed subscribe/unsubscribe
// messages, e.g. "NF12345".
func (k InstrumentKey) FeedKey() string {
	return k.Exchange + strconv.Itoa(k.ScripCode)
}

func (k InstrumentKey) String() string {
	return k.FeedKey()
}
