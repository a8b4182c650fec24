package main

import (
	"fmt"
	"os"

	"github.com/cyclopcam/evsdk/pkg/modelcrypt"
)

// Encrypts a model config file, so that it can be shipped with the SDK.
// evpredict --encrypted <output> --key <passphrase> will load it.

func main() {
	if len(os.Args) != 4 {
		fmt.Printf("Usage: evcrypt <model.json> <passphrase> <output>\n")
		os.Exit(1)
	}
	plain, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
	sealed, err := modelcrypt.Encrypt(plain, os.Args[2])
	if err == nil {
		err = os.WriteFile(os.Args[3], sealed, 0644)
	}
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
}
