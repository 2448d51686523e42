package main

import (
	"github.com/luigi-project/hearth/cmd"
)

func main() {
	cmd.Execute()
}
