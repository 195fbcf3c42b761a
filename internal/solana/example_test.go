package solana_test

import (
	"fmt"

	"github.com/solpos/service_layer/internal/solana"
)

func ExampleTransferRequest_URL() {
	req := solana.TransferRequest{
		Recipient:  solana.MustPublicKey("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"),
		Amount:     "12.5",
		References: []solana.PublicKey{solana.MustPublicKey("HZ1JovNiVvGrGNiiYvEozEVgZ58xaU3RKwX8eACQBCt3")},
		Label:      "Padaria",
		Message:    "K7Q2MX",
	}
	fmt.Println(req.URL())
	// Output: solana:9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM?amount=12.5&reference=HZ1JovNiVvGrGNiiYvEozEVgZ58xaU3RKwX8eACQBCt3&label=Padaria&message=K7Q2MX
}
