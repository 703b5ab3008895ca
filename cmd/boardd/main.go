// Command boardd runs a board page-cache node and talks to running nodes.
package main

func main() {
	Execute()
}
