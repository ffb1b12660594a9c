// Command auctionctl runs admin flows and saga repair from a terminal, against
// the same Redis, MySQL and remote API as the gateway.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
