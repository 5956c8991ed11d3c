// Command warden runs risk-gated task orchestration sessions.
package main

func main() {
	Execute()
}
