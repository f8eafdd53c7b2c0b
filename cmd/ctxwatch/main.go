// ctxwatch captures lifecycle events from an agentic runtime and analyzes
// the resulting traces.
package main

import "github.com/ctxwatch/ctxwatch/internal/cli"

func main() {
	cli.Execute()
}
