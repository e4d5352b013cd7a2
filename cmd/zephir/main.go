// Command zephir runs the authorization decision service.
package main

import "github.com/alekitto/zephir-go/cmd/zephir/cmd"

func main() {
	cmd.Execute()
}
