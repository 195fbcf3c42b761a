package swap

import "encoding/json"

// Quote is an aggregator route for converting one token into another.
type Quote struct {
	InputMint      string   `json:"inputMint"`
	OutputMint     string   `json:"outputMint"`
	InAmount       uint64   `json:"inAmount,string"`
	OutAmount      uint64   `json:"outAmount,string"`
	OtherAmountMin uint64   `json:"otherAmountThreshold,string"`
	SlippageBps    int      `json:"slippageBps"`
	PriceImpactPct float64  `json:"priceImpactPct,string"`
	TotalFees      uint64   `json:"totalFees"`
	RouteLabels    []string `json:"routeLabels"`

	// OutAmountUI is OutAmount rendered with the output token decimals.
	OutAmountUI string `json:"outAmountUi"`
	// Raw is the aggregator response, passed back verbatim when building a swap.
	Raw json.RawMessage `json:"quoteResponse"`
}

// Transaction is an unsigned swap transaction for the wallet to sign.
type Transaction struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	PrioritizationFee    uint64 `json:"prioritizationFeeLamports"`
}
