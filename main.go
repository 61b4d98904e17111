// The main package for the sitetemplateci executable.
package main

import "github.com/JakeFAU/site-template-ci/cmd"

func main() {
	cmd.Execute()
}
