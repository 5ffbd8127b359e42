// Command imagesigner runs the scheduled pull → scan wait → sign workflow
// and serves its execution log.
//
//	imagesigner serve --config imagesigner.yaml
//	imagesigner run
//	imagesigner log exec_01h455vb4pex5vsknk084sn02q
//	imagesigner validate definition.yaml
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
