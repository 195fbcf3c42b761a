package tokens_test

import (
	"fmt"

	"github.com/solpos/service_layer/internal/tokens"
)

func ExampleFromCents() {
	reg, err := tokens.Load("devnet", "")
	if err != nil {
		panic(err)
	}
	brz := reg.DefaultPayment()
	units, err := tokens.FromCents(1250, brz)
	if err != nil {
		panic(err)
	}
	fmt.Println(brz.Symbol, units, tokens.FormatUnits(units, brz.Decimals))
	// Output: tBRZ 12500000 12.5
}
