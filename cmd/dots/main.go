/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package main

import (
	"github.com/ssargent/userdots/cmd/dots/cmd"
)

func main() {
	cmd.Execute()
}
