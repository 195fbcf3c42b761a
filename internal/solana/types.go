package solana

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
)

// Commitment levels accepted by the RPC.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// RPCRequest is a JSON-RPC 2.0 request.
type RPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// RPCResponse is a JSON-RPC 2.0 response.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// SignatureInfo is one entry of getSignaturesForAddress.
type SignatureInfo struct {
	Signature          string          `json:"signature"`
	Slot               uint64          `json:"slot"`
	Err                json.RawMessage `json:"err"`
	Memo               *string         `json:"memo"`
	BlockTime          *int64          `json:"blockTime"`
	ConfirmationStatus string          `json:"confirmationStatus"`
}

// Failed reports whether the transaction errored on-chain.
func (s SignatureInfo) Failed() bool {
	return isSet(s.Err)
}

// UITokenAmount is the parsed token amount of a balance entry.
type UITokenAmount struct {
	Amount         string `json:"amount"`
	Decimals       int    `json:"decimals"`
	UIAmountString string `json:"uiAmountString"`
}

// Units parses Amount as base units.
func (a UITokenAmount) Units() (uint64, error) {
	if a.Amount == "" {
		return 0, nil
	}
	return strconv.ParseUint(a.Amount, 10, 64)
}

// TokenBalance is an entry of meta.pre/postTokenBalances.
type TokenBalance struct {
	AccountIndex  int           `json:"accountIndex"`
	Mint          string        `json:"mint"`
	Owner         string        `json:"owner"`
	ProgramID     string        `json:"programId"`
	UITokenAmount UITokenAmount `json:"uiTokenAmount"`
}

// TransactionMeta is the execution status of a transaction.
type TransactionMeta struct {
	Err               json.RawMessage `json:"err"`
	Fee               uint64          `json:"fee"`
	PreBalances       []uint64        `json:"preBalances"`
	PostBalances      []uint64        `json:"postBalances"`
	PreTokenBalances  []TokenBalance  `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance  `json:"postTokenBalances"`
	LogMessages       []string        `json:"logMessages"`
}

// Transaction is a getTransaction result fetched with jsonParsed encoding.
type Transaction struct {
	Slot      uint64          `json:"slot"`
	BlockTime *int64          `json:"blockTime"`
	Meta      *TransactionMeta `json:"meta"`
	Version   json.RawMessage `json:"version"`

	// Raw keeps the "transaction" object for key extraction.
	Raw json.RawMessage `json:"transaction"`
}

// Signatures returns the transaction signatures.
func (t *Transaction) Signatures() []string {
	var out []string
	for _, s := range gjson.GetBytes(t.Raw, "signatures").Array() {
		out = append(out, s.String())
	}
	return out
}

// AccountKeys lists the message account keys in index order. It accepts both
// the jsonParsed object form and the plain string form.
func (t *Transaction) AccountKeys() []string {
	keys := gjson.GetBytes(t.Raw, "message.accountKeys").Array()
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k.IsObject() {
			out = append(out, k.Get("pubkey").String())
			continue
		}
		out = append(out, k.String())
	}
	return out
}

// Failed reports whether meta.err is set.
func (t *Transaction) Failed() bool {
	return t.Meta != nil && isSet(t.Meta.Err)
}

func isSet(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
