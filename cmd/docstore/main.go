// Command docstore inspects a docstore database and manages its indexes.
//
// Usage:
//
//	docstore status  [--config docstore.yaml] [--uri mongodb://...] [--database name]
//	docstore ping
//	docstore indexes create --file indexes.yaml
//	docstore indexes drop   --file indexes.yaml
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(defaultDeps()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
