// SPDX-FileCopyrightText: 2024 EmmaBot maintainers
// SPDX-License-Identifier: MIT
//
// Print "Hello world" to stdout. Used for figuring out Continuous Integration
// of a Go application in Wikimedia Toolforge.

package main

import (
	"fmt"
)

func main() {
	fmt.Println("Hello world, this is a deployment test for the qidsync tool")
}
