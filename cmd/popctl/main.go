// Command popctl is the device agent for a proof-of-possession token gateway.
package main

import (
	"os"

	"github.com/groot1121/secure-token-gateway/cmd/popctl/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
