// Command sirocco schedules batches of simulation test cases through their
// create, setup, namelist, build, and run phases.
package main

import "github.com/papapumpkin/sirocco/cmd"

func main() {
	cmd.Execute()
}
