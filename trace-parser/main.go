// trace-parser rebuilds span trees from Chrome performance traces.
package main

import "github.com/sarchlab/tracetree/trace-parser/cmd"

func main() {
	cmd.Execute()
}
