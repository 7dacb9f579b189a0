// Command meetpair は週次の1on1ペアリングサービスを起動する。
//
//	meetpair [serve|migrate|match|reap|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/meetpair/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "meetpair: %v\n", err)
		os.Exit(1)
	}
}
