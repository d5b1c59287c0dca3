// Command xcore loads, queries and updates XML documents in a
// SQLite-backed store.
//
// Usage:
//
//	xcore load --db ./xcore.db --collection /db/library books.xml
//	xcore query --db ./xcore.db 'for $b in //book where $b/author return $b/title'
//	xcore update --db ./xcore.db --kind rename --select '//book' --value volume
//	xcore check --db ./xcore.db
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/xcore/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}
	// Commands report their own failures; anything else is a usage error.
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
