// Command importctl previews, validates and runs employee imports from the
// command line against the same backend as the server.
package main

func main() {
	Execute()
}
