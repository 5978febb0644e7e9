package main

import (
	"log"

	"contentpay/services/settled"
)

func main() {
	if err := settled.Main(); err != nil {
		log.Fatalf("settled: %v", err)
	}
}
