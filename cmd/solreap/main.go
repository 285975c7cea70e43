// Solreap - rent reclaim bot for sponsor-created accounts.
// Track. Verify. Reclaim.
package main

func main() {
	Execute()
}
