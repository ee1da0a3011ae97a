package context

type Key string

const (
	Claims   Key = "claims"
	Merchant Key = "merchant"
	Params   Key = "params"
	Request  Key = "request"
)
