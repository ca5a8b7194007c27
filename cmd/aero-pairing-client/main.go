// Command aero-pairing-client is a terminal participant for the pairing
// coordinator, plus read-only views of its stats and rooms.
package main

func main() {
	Execute()
}
