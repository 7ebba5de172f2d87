package main

import (
	"log"
	"os"

	"bloodledger/internal/chaincode"
	"bloodledger/internal/infra/ledger/fabric"
)

// EnvQueryMode selects how selector queries are evaluated on the peer.
const EnvQueryMode = "BLOODLEDGER_FABRIC_QUERY_MODE"

func main() {
	mode, err := fabric.ParseQueryMode(os.Getenv(EnvQueryMode))
	if err != nil {
		log.Fatalf("bloodcc: %v", err)
	}
	cc, err := chaincode.NewChaincode(chaincode.New(mode))
	if err != nil {
		log.Fatalf("bloodcc: %v", err)
	}
	if err := cc.Start(); err != nil {
		log.Fatalf("bloodcc: start chaincode: %v", err)
	}
}
