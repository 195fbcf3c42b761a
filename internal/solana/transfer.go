package solana

import (
	"fmt"
	"net/url"
	"strings"
)

// TransferRequest is a Solana Pay transfer request.
type TransferRequest struct {
	Recipient PublicKey
	// Amount is a decimal string in token units ("12.5"), empty for open amounts.
	Amount string
	// SPLToken is empty for native SOL.
	SPLToken   string
	References []PublicKey
	Label      string
	Message    string
	Memo       string
}

// URL renders the request as a solana: URI.
func (r TransferRequest) URL() string {
	q := make([]string, 0, 6)
	add := func(k, v string) {
		if v != "" {
			q = append(q, k+"="+url.QueryEscape(v))
		}
	}
	add("amount", r.Amount)
	add("spl-token", r.SPLToken)
	for _, ref := range r.References {
		add("reference", ref.String())
	}
	add("label", r.Label)
	add("message", r.Message)
	add("memo", r.Memo)

	u := "solana:" + r.Recipient.String()
	if len(q) > 0 {
		u += "?" + strings.Join(q, "&")
	}
	return u
}

// ParseTransferRequest decodes a solana: URI.
func ParseTransferRequest(raw string) (TransferRequest, error) {
	var r TransferRequest
	rest, ok := strings.CutPrefix(raw, "solana:")
	if !ok {
		return r, fmt.Errorf("not a solana: URL")
	}
	addr, query, _ := strings.Cut(rest, "?")
	recipient, err := ParsePublicKey(addr)
	if err != nil {
		return r, fmt.Errorf("recipient: %w", err)
	}
	r.Recipient = recipient

	values, err := url.ParseQuery(query)
	if err != nil {
		return r, fmt.Errorf("query: %w", err)
	}
	r.Amount = values.Get("amount")
	if r.Amount != "" && (strings.HasPrefix(r.Amount, "-") || strings.Count(r.Amount, ".") > 1) {
		return r, fmt.Errorf("invalid amount %q", r.Amount)
	}
	if r.SPLToken = values.Get("spl-token"); r.SPLToken != "" && !ValidAddress(r.SPLToken) {
		return r, fmt.Errorf("invalid spl-token %q", r.SPLToken)
	}
	for _, s := range values["reference"] {
		ref, err := ParsePublicKey(s)
		if err != nil {
			return r, fmt.Errorf("reference: %w", err)
		}
		r.References = append(r.References, ref)
	}
	r.Label = values.Get("label")
	r.Message = values.Get("message")
	r.Memo = values.Get("memo")
	return r, nil
}
