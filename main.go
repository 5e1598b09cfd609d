// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/invowk/termlaunch/cmd/termlaunch"

func main() {
	cmd.Execute()
}
