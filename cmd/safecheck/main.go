// SafeCheck - check-in timer with emergency contact alerts
package main

import "github.com/lcrostarosa/safecheck/internal/cli"

var version = "dev"

func main() {
	cli.SetVersion(version)
	cli.Execute()
}
