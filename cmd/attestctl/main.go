// Command attestctl exercises the attestation core from the shell: price
// encoding, calldata building and the re-attestation check. Every command
// prints JSON on stdout.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "attestctl: %v\n", err)
		os.Exit(1)
	}
}
