// Command ldn-inbox administers LDN inbox and message collections.
package main

import (
	"github.com/digitalbazaar/bedrock-ldn-inbox/internal/cli"
)

func main() {
	cli.Execute()
}
