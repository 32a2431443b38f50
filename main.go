// Package main is the graphbuilder entrypoint.
package main

import "github.com/JakeFAU/graphbuilder/cmd"

func main() {
	cmd.Execute()
}
